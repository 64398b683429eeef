// Package queryanalyst implements the QueryAnalyst stage (section 4.3):
// validate, locate, describe, enhance, embed, classify, search, allocate,
// report, and persist a raw grievance in one pass.
package queryanalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/departments"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/grievance"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/reportrenderer"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// classifierTasks is the ten-way fan-out of step 4.3.7. Each task name is
// opaque to internal/aiservices; it only matters to whatever TextAnalyzer
// implementation is wired in.
var classifierTasks = []string{
	"query_type", "location_normalization", "emotion", "severity", "patterns",
	"fraud", "category", "similar_cases_summary", "department_recommendation",
	"sentiment_priority",
}

// similarityTopK bounds the nearest-neighbor lookup step 4.3.6 feeds into
// the classifier fan-out; the spec leaves the count unspecified.
const similarityTopK = 5

// Handler orchestrates one grievance through the QueryAnalyst pipeline.
type Handler struct {
	rdb        *redis.Client
	cfg        *config.Config
	repo       *grievance.Repository
	depts      *departments.Repository
	vision     aiservices.VisionAnalyzer
	analyzer   aiservices.TextAnalyzer
	embedder   aiservices.Embedder
	index      vectorindex.Index
	search     aiservices.WebSearch
	renderer   reportrenderer.Renderer
	blobs      blob.Store
	log        *zap.Logger
	crawlQueue string
}

func New(rdb *redis.Client, cfg *config.Config, repo *grievance.Repository, depts *departments.Repository,
	vision aiservices.VisionAnalyzer, analyzer aiservices.TextAnalyzer, embedder aiservices.Embedder,
	index vectorindex.Index, search aiservices.WebSearch, renderer reportrenderer.Renderer, blobs blob.Store, log *zap.Logger) *Handler {
	return &Handler{
		rdb: rdb, cfg: cfg, repo: repo, depts: depts,
		vision: vision, analyzer: analyzer, embedder: embedder, index: index, search: search, renderer: renderer,
		blobs: blobs, log: log, crawlQueue: cfg.Queues.WebCrawler,
	}
}

// Handle implements queue.Handler for the grievances queue.
func (h *Handler) Handle(ctx context.Context, wire string) queue.Result {
	var msg envelope.GrievanceMessage
	if err := envelope.Decode(wire, &msg); err != nil {
		return queue.Quarantine(err.Error())
	}
	if msg.CurrentStatus != "" && msg.CurrentStatus != envelope.StatusPending {
		return queue.Ok()
	}
	if msg.GrievanceID == "" {
		return queue.Quarantine("missing grievance_id")
	}
	if strings.TrimSpace(msg.GrievanceText) == "" {
		return queue.Rejected("empty grievance text")
	}

	var a grievance.Analysis
	a.FullResult = map[string]any{}

	// Step 1: image validation, terminal on rejection.
	var validation aiservices.ImageValidation
	if msg.ImagePath != "" {
		var err error
		validation, err = h.vision.ValidateImage(ctx, msg.ImagePath, msg.GrievanceText)
		if err != nil {
			h.log.Warn("image validation failed, continuing degraded", obs.Err(err))
			validation = aiservices.ImageValidation{IsValid: true, Confidence: 0}
		}
		a.Validation = grievance.Validation{IsValid: validation.IsValid, Score: validation.Score, Reasoning: validation.Reasoning, Confidence: validation.Confidence}
		if !validation.IsValid {
			if err := h.repo.RecordValidationRejection(ctx, msg.GrievanceID, a.Validation); err != nil {
				return queue.Failed(fmt.Errorf("record validation rejection: %w", err))
			}
			return queue.Rejected("image validation failed")
		}
	} else {
		a.Validation = grievance.Validation{IsValid: true}
	}

	// Step 2: location extraction, degrades to confidence=none.
	location := h.extractLocation(ctx, msg.ImagePath)
	a.Location = location

	// Step 3: image description, degrades to empty strings.
	description, visibleText := h.describeImage(ctx, msg.ImagePath)

	// Step 4: enhanced query.
	a.EnhancedQuery = enhanceQuery(msg.GrievanceText, description, visibleText, location)

	// Step 5: embedding.
	vec, err := h.embedder.Embed(ctx, a.EnhancedQuery)
	if err != nil {
		return queue.Failed(fmt.Errorf("embed enhanced query: %w", err))
	}
	a.Embedding = pgvector.NewVector(vec)

	// Step 6: similarity retrieval. Hits are opaque classifier context,
	// never surfaced on the row directly.
	neighbors := h.retrieveSimilar(ctx, vec)

	// Step 7: classifier fan-out.
	h.runClassifiers(ctx, &a, msg.GrievanceText, neighbors)

	// Step 8/9: policy search synthesis and web enrichment.
	a.PolicySearch = synthesizePolicyQueries(a.Category.MainCategory, location.Address)
	if h.search != nil && len(a.PolicySearch) > 0 {
		if hits, err := h.search.Search(ctx, a.PolicySearch); err != nil {
			h.log.Warn("policy web search failed", obs.Err(err))
		} else {
			a.FullResult["web_search_hits"] = hits
		}
	}

	// Step 10: department allocation.
	if h.depts != nil {
		alloc, err := h.depts.Allocate(ctx, location.Address, departmentRecommendation(a), location.Address, vec, location.Latitude, location.Longitude)
		if err != nil {
			h.log.Warn("department allocation failed", obs.Err(err))
		} else if alloc != nil {
			a.DepartmentID = alloc.Department.ID
			a.DepartmentInfo = map[string]any{"name": alloc.Department.Name, "match_score": alloc.MatchScore, "distance_km": alloc.DistanceKM}
		}
	}

	// Step 11: report generation. Rendering and blob upload failures are
	// logged and skipped, not fatal: the analysis itself is already
	// complete and persistence in step 12 must not be blocked by an
	// artifact bundle nobody has requested synchronously.
	a.FullResult["enhanced_query"] = a.EnhancedQuery
	a.ProcessingMetadata = map[string]any{"classifiers_run": classifierTasks}
	h.writeReportArtifacts(ctx, msg.GrievanceID, a)

	// Step 12: persistence.
	if err := h.repo.Persist(ctx, msg.GrievanceID, a); err != nil {
		return queue.Failed(fmt.Errorf("persist grievance analysis: %w", err))
	}

	crawlMsg := envelope.CrawlMessage{
		JobID:               msg.GrievanceID,
		GrievanceID:         msg.GrievanceID,
		CurrentStatus:       envelope.StatusWebCrawling,
		PolicySearchQueries: a.PolicySearch,
		ValidationResult:    map[string]any{"is_valid": a.Validation.IsValid, "confidence": a.Validation.Confidence},
		LocationData:        map[string]any{"address": location.Address, "confidence": location.Confidence},
	}
	if err := queue.Send(ctx, h.rdb, h.crawlQueue, crawlMsg); err != nil {
		return queue.Failed(fmt.Errorf("emit crawl message: %w", err))
	}
	return queue.Ok()
}

func (h *Handler) extractLocation(ctx context.Context, imagePath string) grievance.Location {
	if imagePath == "" || h.vision == nil {
		return grievance.Location{Confidence: "none"}
	}
	loc, err := h.vision.ExtractLocation(ctx, imagePath)
	if err != nil {
		h.log.Warn("location extraction failed", obs.Err(err))
		return grievance.Location{Confidence: "none"}
	}
	return grievance.Location{
		Address: loc.Address, Latitude: loc.Latitude, Longitude: loc.Longitude,
		Landmarks: loc.Landmarks, AreaType: loc.AreaType, Confidence: loc.Confidence,
	}
}

func (h *Handler) describeImage(ctx context.Context, imagePath string) (description, visibleText string) {
	if imagePath == "" || h.vision == nil {
		return "", ""
	}
	desc, err := h.vision.DescribeImage(ctx, imagePath)
	if err != nil {
		h.log.Warn("image description failed", obs.Err(err))
		return "", ""
	}
	return desc.Description, desc.VisibleText
}

// retrieveSimilar looks up the enhanced query's nearest neighbors in the
// vector index. Failure degrades to no neighbors, never to a handler error:
// similarity context only sharpens classification, it never gates it.
func (h *Handler) retrieveSimilar(ctx context.Context, vec []float32) []vectorindex.SearchResult {
	if h.index == nil {
		return nil
	}
	hits, err := h.index.Search(ctx, vec, similarityTopK, nil)
	if err != nil {
		h.log.Warn("similarity retrieval failed", obs.Err(err))
		return nil
	}
	return hits
}

func neighborContext(hits []vectorindex.SearchResult) []map[string]any {
	if len(hits) == 0 {
		return nil
	}
	out := make([]map[string]any, len(hits))
	for i, hit := range hits {
		out[i] = map[string]any{"id": hit.ID, "score": hit.Score, "payload": hit.Payload}
	}
	return out
}

func (h *Handler) runClassifiers(ctx context.Context, a *grievance.Analysis, text string, neighbors []vectorindex.SearchResult) {
	for _, task := range classifierTasks {
		input := map[string]any{"text": text, "enhanced_query": a.EnhancedQuery, "similar_neighbors": neighborContext(neighbors)}
		if task == "fraud" {
			// Fraud classification consumes only the validation verdict,
			// never the raw text, to avoid keyword-driven false positives.
			input = map[string]any{"validation": a.Validation}
		}
		result, err := h.analyzer.Analyze(ctx, task, input)
		if err != nil {
			h.log.Warn("classifier task failed", obs.String("task", task), obs.Err(err))
			continue
		}
		applyClassifierResult(a, task, result)
	}
}

func applyClassifierResult(a *grievance.Analysis, task string, result aiservices.AnalysisResult) {
	switch task {
	case "query_type":
		a.QueryType = stringField(result, "query_type")
	case "emotion":
		a.Emotion = result.Structured
	case "severity":
		if a.SentimentPriority == nil {
			a.SentimentPriority = map[string]any{}
		}
		a.SentimentPriority["severity"] = stringField(result, "severity")
	case "patterns":
		a.Patterns = result.Structured
	case "fraud":
		a.Fraud = result.Structured
	case "category":
		a.Category.MainCategory = stringField(result, "main_category")
		a.Category.SubCategory = stringField(result, "sub_category")
	case "similar_cases_summary":
		a.SimilarCasesSummary = result.Raw
	case "department_recommendation":
		a.FullResult["department_recommendation"] = result.Structured
	case "sentiment_priority":
		if a.SentimentPriority == nil {
			a.SentimentPriority = map[string]any{}
		}
		for k, v := range result.Structured {
			a.SentimentPriority[k] = v
		}
		a.Priority = stringField(result, "priority")
	case "location_normalization":
		a.Zone = stringField(result, "zone")
		a.Ward = stringField(result, "ward")
	}
}

func stringField(result aiservices.AnalysisResult, key string) string {
	if v, ok := result.Structured[key].(string); ok {
		return v
	}
	return ""
}

// enhanceQuery deterministically concatenates raw text, image-derived
// description, visible text, and a location summary, scrubbing anything
// that looks like a provider error string.
func enhanceQuery(text, description, visibleText string, loc grievance.Location) string {
	parts := []string{text}
	if description != "" && !looksLikeProviderError(description) {
		parts = append(parts, description)
	}
	if visibleText != "" && !looksLikeProviderError(visibleText) {
		parts = append(parts, visibleText)
	}
	if loc.Address != "" {
		parts = append(parts, fmt.Sprintf("Location: %s", loc.Address))
	}
	return strings.Join(parts, " | ")
}

func looksLikeProviderError(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed to") || strings.Contains(lower, "unavailable")
}

// synthesizePolicyQueries produces web-search strings from category and
// location: three, plus a fourth when a location is given, and none when
// both are empty.
func synthesizePolicyQueries(category, location string) []string {
	category = strings.TrimSpace(category)
	location = strings.TrimSpace(location)
	if category == "" && location == "" {
		return nil
	}
	queries := []string{
		fmt.Sprintf("%s government policy %s", category, location),
		fmt.Sprintf("%s municipal scheme %s", category, location),
		fmt.Sprintf("%s budget allocation %s", category, location),
	}
	if location != "" {
		queries = append(queries, fmt.Sprintf("%s development plan %s", category, location))
	}
	return queries
}

// writeReportArtifacts renders and uploads the four griviences/<id>
// artifacts named in section 6. Each write is independent; one failing
// does not stop the others.
func (h *Handler) writeReportArtifacts(ctx context.Context, grievanceID string, a grievance.Analysis) {
	if h.blobs == nil {
		return
	}

	markdown := renderMarkdownReport(grievanceID, a)
	if err := h.blobs.Put(ctx, blob.GrievanceArtifactPath(grievanceID, "grievance_report.md"), "text/markdown", []byte(markdown)); err != nil {
		h.log.Warn("write markdown report failed", obs.Err(err))
	}

	if h.renderer != nil {
		pdf, err := h.renderer.RenderPDF(ctx, markdown)
		if err != nil {
			h.log.Warn("render pdf report failed", obs.Err(err))
		} else if err := h.blobs.Put(ctx, blob.GrievanceArtifactPath(grievanceID, "grievance_report.pdf"), "application/pdf", pdf); err != nil {
			h.log.Warn("write pdf report failed", obs.Err(err))
		}
	}

	finalJSON, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		h.log.Warn("marshal final analysis failed", obs.Err(err))
	} else if err := h.blobs.Put(ctx, blob.GrievanceArtifactPath(grievanceID, "grievance_analysis_final.json"), "application/json", finalJSON); err != nil {
		h.log.Warn("write final analysis json failed", obs.Err(err))
	}

	agentOutputs, err := json.MarshalIndent(a.FullResult, "", "  ")
	if err != nil {
		h.log.Warn("marshal agent outputs failed", obs.Err(err))
	} else if err := h.blobs.Put(ctx, blob.GrievanceArtifactPath(grievanceID, "all_agent_outputs.json"), "application/json", agentOutputs); err != nil {
		h.log.Warn("write agent outputs json failed", obs.Err(err))
	}
}

// renderMarkdownReport builds the human-readable case report handed to
// the PDF renderer, following the section/field order of the original
// agent's markdown template.
func renderMarkdownReport(grievanceID string, a grievance.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Grievance Report: %s\n\n", grievanceID)
	fmt.Fprintf(&b, "## Summary\n%s\n\n", a.EnhancedQuery)
	fmt.Fprintf(&b, "## Classification\nCategory: %s / %s\nQuery type: %s\nPriority: %s\n\n",
		a.Category.MainCategory, a.Category.SubCategory, a.QueryType, a.Priority)
	fmt.Fprintf(&b, "## Location\nAddress: %s\nZone: %s\nWard: %s\nConfidence: %s\n\n",
		a.Location.Address, a.Zone, a.Ward, a.Location.Confidence)
	fmt.Fprintf(&b, "## Department\nAssigned: %s\n\n", a.DepartmentID)
	if a.SimilarCasesSummary != "" {
		fmt.Fprintf(&b, "## Similar Cases\n%s\n\n", a.SimilarCasesSummary)
	}
	return b.String()
}

func departmentRecommendation(a grievance.Analysis) string {
	if v, ok := a.FullResult["department_recommendation"].(map[string]any); ok {
		if name, ok := v["department_name"].(string); ok {
			return name
		}
	}
	return a.Category.MainCategory
}
