// Package research implements the Research stage with pattern cache
// (section 4.6): a DB-NOTIFY-triggered reuse-or-generate path over the
// pattern table, never a queue consumer.
package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/grievance"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/pattern"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// searchSlots are the four category-conditioned query angles step 3 runs
// on a pattern-cache miss.
var searchSlots = []string{"government schemes", "budget allocation", "development plans", "resources and facilities"}

const (
	minRelevanceScore = 0.5
	minContentLength  = 100
)

// Processor runs one grievance through the reuse-or-generate research
// path. It is invoked directly from a NOTIFY listener loop, not leased
// from a queue.
type Processor struct {
	rdb        *redis.Client
	grievances *grievance.Repository
	patterns   *pattern.Repository
	search     aiservices.WebSearch
	analyzer   aiservices.TextAnalyzer
	log        *zap.Logger
	crawlQueue string
}

func New(rdb *redis.Client, cfg *config.Config, grievances *grievance.Repository, patterns *pattern.Repository,
	search aiservices.WebSearch, analyzer aiservices.TextAnalyzer, log *zap.Logger) *Processor {
	return &Processor{
		rdb: rdb, grievances: grievances, patterns: patterns,
		search: search, analyzer: analyzer, log: log, crawlQueue: cfg.Queues.WebCrawler,
	}
}

// Process runs the full reuse-or-generate pipeline for one grievance row id
// received on the notify channel.
func (p *Processor) Process(ctx context.Context, grievanceID string) error {
	embedding, err := p.grievances.FetchEmbedding(ctx, grievanceID)
	if err != nil {
		return fmt.Errorf("fetch grievance embedding: %w", err)
	}

	match, err := p.patterns.FindSimilar(ctx, embedding)
	if err != nil {
		return fmt.Errorf("find similar pattern: %w", err)
	}
	if match != nil {
		return p.reuse(ctx, grievanceID, *match)
	}
	return p.generate(ctx, grievanceID, embedding)
}

// reuse links the grievance to an existing pattern and copies its cached
// report, making no external calls at all.
func (p *Processor) reuse(ctx context.Context, grievanceID string, match pattern.Match) error {
	if err := p.patterns.LinkGrievance(ctx, grievanceID, match.Pattern.ID, match.Similarity); err != nil {
		return fmt.Errorf("link grievance to pattern: %w", err)
	}
	if err := p.grievances.WriteResearchMetadata(ctx, grievanceID, match.Pattern.ResearchReport, match.Pattern.ResearchSources); err != nil {
		return fmt.Errorf("write reused research metadata: %w", err)
	}
	p.log.Info("research pattern cache hit", obs.String("grievance_id", grievanceID), obs.String("pattern_id", match.Pattern.ID))
	return nil
}

// generate runs the full research path: four category-conditioned search
// slots, result validation, summarization, and a new pattern row.
func (p *Processor) generate(ctx context.Context, grievanceID string, embedding []float32) error {
	input, err := p.grievances.FetchForResearch(ctx, grievanceID)
	if err != nil {
		return fmt.Errorf("fetch research input: %w", err)
	}

	var validURLs []string
	seen := map[string]bool{}
	sections := map[string]string{}
	for _, slot := range searchSlots {
		hits, err := p.searchSlot(ctx, slot, input.Category, input.Location)
		if err != nil {
			p.log.Warn("research search slot failed", obs.String("slot", slot), obs.Err(err))
			continue
		}
		for _, hit := range hits {
			if !validHit(hit) {
				continue
			}
			summary, err := p.analyzer.Analyze(ctx, "summarize_research_hit", map[string]any{
				"title": hit.Title, "snippet": hit.Snippet, "url": hit.URL,
			})
			if err != nil {
				p.log.Warn("summarize research hit failed", obs.String("url", hit.URL), obs.Err(err))
				continue
			}
			sections[slot] += summary.Raw + "\n"
			if !seen[hit.URL] {
				seen[hit.URL] = true
				validURLs = append(validURLs, hit.URL)
			}
		}
	}

	report := map[string]any{"sections": sections, "category": input.Category, "location": input.Location}
	patternID, err := p.patterns.Create(ctx, pattern.Pattern{
		Name:            pattern.GenerateName(input.Category, input.Location),
		Description:     fmt.Sprintf("research pattern for %s in %s", input.Category, input.Location),
		Embedding:       pgvector.NewVector(embedding),
		ResearchReport:  report,
		ResearchSources: validURLs,
	})
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}

	if err := p.patterns.LinkGrievance(ctx, grievanceID, patternID, 1.0); err != nil {
		return fmt.Errorf("link grievance to new pattern: %w", err)
	}
	if err := p.grievances.WriteResearchMetadata(ctx, grievanceID, report, validURLs); err != nil {
		return fmt.Errorf("write generated research metadata: %w", err)
	}

	for _, u := range validURLs {
		msg := envelope.CrawlMessage{JobID: grievanceID, GrievanceID: grievanceID, URL: u, CurrentStatus: envelope.StatusWebCrawling}
		if err := queue.Send(ctx, p.rdb, p.crawlQueue, msg); err != nil {
			p.log.Warn("emit research crawl url failed", obs.String("url", u), obs.Err(err))
		}
	}
	return nil
}

func (p *Processor) searchSlot(ctx context.Context, slot, category, location string) ([]aiservices.SearchHit, error) {
	query := strings.TrimSpace(fmt.Sprintf("%s %s %s", category, slot, location))
	return p.search.Search(ctx, []string{query})
}

// validHit applies the four validation criteria of step 3: well-formed
// URL, relevance threshold, content length, and a non-trivial title.
func validHit(hit aiservices.SearchHit) bool {
	if hit.Score < minRelevanceScore {
		return false
	}
	if len(hit.Snippet) < minContentLength {
		return false
	}
	if strings.TrimSpace(hit.Title) == "" {
		return false
	}
	u, err := url.Parse(hit.URL)
	return err == nil && u.Scheme != "" && u.Host != ""
}
