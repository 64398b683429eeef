package pattern

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Repository is the grievance_patterns / grievance_pattern_map store.
type Repository struct {
	db        *sql.DB
	threshold float64
}

func NewRepository(db *sql.DB, cfg *config.Config) *Repository {
	return &Repository{db: db, threshold: cfg.Pattern.SimilarityThreshold}
}

// FindSimilar returns the nearest pattern by cosine similarity, or nil if
// none exists or the best match falls short of the configured threshold.
func (r *Repository) FindSimilar(ctx context.Context, embedding []float32) (*Match, error) {
	vec := pgvector.NewVector(embedding)
	query := `
		SELECT pattern_id, pattern_name, pattern_description, pattern_embedding,
		       research_report, research_sources, grievance_count,
		       1 - (pattern_embedding <=> $1) AS similarity
		FROM grievance_patterns
		ORDER BY pattern_embedding <=> $1
		LIMIT 1`

	var m Match
	var report, sources []byte
	row := r.db.QueryRowContext(ctx, query, vec)
	err := row.Scan(&m.Pattern.ID, &m.Pattern.Name, &m.Pattern.Description, &m.Pattern.Embedding,
		&report, &sources, &m.Pattern.GrievanceCount, &m.Similarity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find similar pattern: %w", err)
	}
	if err := json.Unmarshal(report, &m.Pattern.ResearchReport); err != nil {
		return nil, fmt.Errorf("unmarshal research_report: %w", err)
	}
	if err := json.Unmarshal(sources, &m.Pattern.ResearchSources); err != nil {
		return nil, fmt.Errorf("unmarshal research_sources: %w", err)
	}
	if m.Similarity < r.threshold {
		return nil, nil
	}
	obs.PatternCacheHits.Inc()
	return &m, nil
}

// Create inserts a new pattern row after a full research run. The unique
// index on (category, location, embedding-bucket) prevents duplicate
// patterns under a simultaneous-miss race: the losing writer's insert
// fails with a conflict and it refetches the winner's row instead.
func (r *Repository) Create(ctx context.Context, p Pattern) (string, error) {
	report, err := json.Marshal(p.ResearchReport)
	if err != nil {
		return "", fmt.Errorf("marshal research_report: %w", err)
	}
	sources, err := json.Marshal(p.ResearchSources)
	if err != nil {
		return "", fmt.Errorf("marshal research_sources: %w", err)
	}

	query := `
		INSERT INTO grievance_patterns
			(pattern_name, pattern_description, pattern_embedding, research_report, research_sources, grievance_count, keywords)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT ON CONSTRAINT grievance_patterns_category_location_bucket_key
		DO NOTHING
		RETURNING pattern_id`

	var id string
	row := r.db.QueryRowContext(ctx, query, p.Name, p.Description, p.Embedding, report, sources, pq.Array(p.Keywords))
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			obs.PatternCacheMisses.Inc()
			return r.refetchLoser(ctx, p.Embedding)
		}
		return "", fmt.Errorf("create pattern: %w", err)
	}
	obs.PatternCacheMisses.Inc()
	return id, nil
}

// refetchLoser handles the race where a concurrent writer's pattern won
// the unique-constraint race: the losing worker discards its candidate
// and links to whichever pattern now matches closest.
func (r *Repository) refetchLoser(ctx context.Context, embedding pgvector.Vector) (string, error) {
	match, err := r.FindSimilar(ctx, embedding.Slice())
	if err != nil {
		return "", fmt.Errorf("refetch after pattern race: %w", err)
	}
	if match == nil {
		return "", fmt.Errorf("pattern insert conflicted but no pattern found on refetch")
	}
	return match.Pattern.ID, nil
}

// LinkGrievance upserts the grievance-to-pattern mapping, idempotent on
// (grievance_id, pattern_id) so a handler retry never creates a duplicate.
func (r *Repository) LinkGrievance(ctx context.Context, grievanceID, patternID string, similarity float64) error {
	query := `
		INSERT INTO grievance_pattern_map (grievance_id, pattern_id, confidence_score)
		VALUES ($1, $2, $3)
		ON CONFLICT (grievance_id, pattern_id) DO UPDATE SET confidence_score = EXCLUDED.confidence_score`
	_, err := r.db.ExecContext(ctx, query, grievanceID, patternID, similarity)
	if err != nil {
		return fmt.Errorf("link grievance to pattern: %w", err)
	}
	return nil
}

// FetchStats summarizes the pattern cache.
func (r *Repository) FetchStats(ctx context.Context) (Stats, error) {
	var s Stats
	query := `SELECT count(*), coalesce(sum(grievance_count), 0) FROM grievance_patterns`
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.TotalPatterns, &s.TotalGrievances); err != nil {
		return Stats{}, fmt.Errorf("fetch pattern stats: %w", err)
	}
	if s.TotalGrievances > 0 {
		s.AverageHitRate = 1 - float64(s.TotalPatterns)/float64(s.TotalGrievances)
	}
	return s, nil
}
