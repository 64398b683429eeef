package grievance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// Repository persists QueryAnalyst output with a single UPDATE per
// grievance, matching on the caller-supplied row id. The full analysis is
// written once, by Persist; RecordValidationRejection and
// WriteResearchMetadata are the only other updates this repository makes
// to the row. Every field Persist touches is nullable until that write
// happens.
type Repository struct {
	db    *sql.DB
	log   *zap.Logger
	table string
}

func NewRepository(db *sql.DB, log *zap.Logger) *Repository {
	return &Repository{db: db, log: log, table: "grievances"}
}

// Persist writes the full analysis in one UPDATE. A zero-rowcount result
// is logged as a warning, not an error: the row may have been deleted or
// the id may be stale, but raising a hard error here would turn an
// advisory housekeeping signal into a poison-looping handler failure.
func (r *Repository) Persist(ctx context.Context, rowID string, a Analysis) error {
	category, err := json.Marshal(a.Category)
	if err != nil {
		return fmt.Errorf("marshal category: %w", err)
	}
	fullResult, err := json.Marshal(a.FullResult)
	if err != nil {
		return fmt.Errorf("marshal full_result: %w", err)
	}
	processingMetadata, err := json.Marshal(a.ProcessingMetadata)
	if err != nil {
		return fmt.Errorf("marshal processing_metadata: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			enhanced_query = $1,
			category = $2,
			query_type = $3,
			similar_cases_summary = $4,
			department_id = $5,
			priority = $6,
			zone = $7,
			ward = $8,
			validation_is_valid = $9,
			validation_confidence = $10,
			extracted_address = $11,
			latitude = $12,
			longitude = $13,
			location_confidence = $14,
			embedding = $15,
			processing_metadata = $16,
			full_result = $17,
			updated_at = now()
		WHERE id = $18`, r.table)

	res, err := r.db.ExecContext(ctx, query,
		a.EnhancedQuery, category, a.QueryType, a.SimilarCasesSummary,
		nullableString(a.DepartmentID), nullableString(a.Priority), nullableString(a.Zone), nullableString(a.Ward),
		a.Validation.IsValid, a.Validation.Confidence,
		nullableString(a.Location.Address), a.Location.Latitude, a.Location.Longitude, a.Location.Confidence,
		a.Embedding, processingMetadata, fullResult, rowID,
	)
	if err != nil {
		return fmt.Errorf("persist grievance analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		r.log.Warn("grievance update matched zero rows", obs.String("row_id", rowID))
	}
	return nil
}

// RecordValidationRejection persists only the validation verdict for a
// grievance whose image failed validation, the terminal business-failure
// path of step 4.3.1.
func (r *Repository) RecordValidationRejection(ctx context.Context, rowID string, v Validation) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			validation_is_valid = $1,
			validation_confidence = $2,
			validation_status = 'rejected',
			updated_at = now()
		WHERE id = $3`, r.table)
	res, err := r.db.ExecContext(ctx, query, v.IsValid, v.Confidence, rowID)
	if err != nil {
		return fmt.Errorf("persist validation rejection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Warn("validation rejection update matched zero rows", obs.String("row_id", rowID))
	}
	return nil
}

// FetchEmbedding loads a grievance's embedding, used by the Research stage
// on DB NOTIFY to look up pattern matches.
func (r *Repository) FetchEmbedding(ctx context.Context, rowID string) ([]float32, error) {
	query := fmt.Sprintf(`SELECT embedding FROM %s WHERE id = $1`, r.table)
	var vec pgvector.Vector
	row := r.db.QueryRowContext(ctx, query, rowID)
	if err := row.Scan(&vec); err != nil {
		return nil, fmt.Errorf("fetch embedding: %w", err)
	}
	return vec.Slice(), nil
}

// ResearchInput is the subset of a grievance row the Research stage needs
// to run category-conditioned web searches on a pattern-cache miss.
type ResearchInput struct {
	Category string
	Location string
}

// FetchForResearch loads the category and location the Research stage
// conditions its web searches on.
func (r *Repository) FetchForResearch(ctx context.Context, rowID string) (ResearchInput, error) {
	query := fmt.Sprintf(`SELECT category, extracted_address FROM %s WHERE id = $1`, r.table)
	var categoryJSON []byte
	var location sql.NullString
	row := r.db.QueryRowContext(ctx, query, rowID)
	if err := row.Scan(&categoryJSON, &location); err != nil {
		return ResearchInput{}, fmt.Errorf("fetch research input: %w", err)
	}
	var category Category
	if len(categoryJSON) > 0 {
		if err := json.Unmarshal(categoryJSON, &category); err != nil {
			return ResearchInput{}, fmt.Errorf("unmarshal category: %w", err)
		}
	}
	return ResearchInput{Category: category.MainCategory, Location: location.String}, nil
}

// WriteResearchMetadata persists the cached or freshly-generated research
// report and its source URLs into the grievance's metadata column, the
// terminal step of both the reuse and full-research paths of section 4.6.
func (r *Repository) WriteResearchMetadata(ctx context.Context, rowID string, report map[string]any, sourceURLs []string) error {
	payload := map[string]any{"research_report": report, "research_sources": sourceURLs}
	metadata, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal research metadata: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET metadata = $1, updated_at = now() WHERE id = $2`, r.table)
	res, err := r.db.ExecContext(ctx, query, metadata, rowID)
	if err != nil {
		return fmt.Errorf("write research metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Warn("research metadata update matched zero rows", obs.String("row_id", rowID))
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
