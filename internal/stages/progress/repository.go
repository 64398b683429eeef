package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the grievances / workflow_steps / feedback / departments
// store the Progress stage reads and writes.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveDepartments lists every department the scheduled run should cover.
func (r *Repository) ActiveDepartments(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM departments WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active departments: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan department id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrievanceRow pairs a grievance's progress state with the identifiers the
// processor needs to join feedback and proof data and to escalate it.
type GrievanceRow struct {
	ID       string
	State    GrievanceState
	Feedback FeedbackState
	Proof    ProofState
}

// GrievancesForDepartment loads every grievance currently assigned to a
// department, along with its workflow completion count, feedback, and
// proof-document count, in one joined query.
func (r *Repository) GrievancesForDepartment(ctx context.Context, departmentID string) ([]GrievanceRow, error) {
	query := `
		SELECT g.id, g.status, g.priority, g.created_at, g.updated_at, g.resolved_at, g.sla_deadline, g.image_path,
		       coalesce(w.total_steps, 0), coalesce(w.done_steps, 0),
		       coalesce(f.rating, 0), coalesce(f.sentiment, ''), (f.grievance_id IS NOT NULL) AS has_feedback,
		       coalesce(p.document_count, 0)
		FROM grievances g
		LEFT JOIN (
			SELECT grievance_id, count(*) AS total_steps, count(*) FILTER (WHERE is_completed) AS done_steps
			FROM workflow_steps GROUP BY grievance_id
		) w ON w.grievance_id = g.id
		LEFT JOIN feedback f ON f.grievance_id = g.id
		LEFT JOIN (
			SELECT grievance_id, count(*) AS document_count FROM proof_documents GROUP BY grievance_id
		) p ON p.grievance_id = g.id
		WHERE g.department_id = $1`

	rows, err := r.db.QueryContext(ctx, query, departmentID)
	if err != nil {
		return nil, fmt.Errorf("load department grievances: %w", err)
	}
	defer rows.Close()

	var out []GrievanceRow
	for rows.Next() {
		var g GrievanceRow
		var resolvedAt, slaDeadline sql.NullTime
		var imagePath sql.NullString
		if err := rows.Scan(
			&g.ID, &g.State.Status, &g.State.Priority, &g.State.CreatedAt, &g.State.UpdatedAt, &resolvedAt, &slaDeadline, &imagePath,
			&g.State.WorkflowTotalSteps, &g.State.WorkflowDoneSteps,
			&g.Feedback.Rating, &g.Feedback.Sentiment, &g.Feedback.HasFeedback,
			&g.Proof.DocumentCount,
		); err != nil {
			return nil, fmt.Errorf("scan department grievance: %w", err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			g.State.ResolvedAt = &t
		}
		if slaDeadline.Valid {
			t := slaDeadline.Time
			g.State.SLADeadline = &t
		}
		g.Proof.ImagePath = imagePath.String
		out = append(out, g)
	}
	return out, rows.Err()
}

// SaveInsight persists the narrative report as an AI-insight row and
// records the blob URL in the department's dashboard column.
func (r *Repository) SaveInsight(ctx context.Context, departmentID, narrative, blobURL string, generatedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO ai_insights (department_id, insight_type, content, created_at) VALUES ($1, 'progress_report', $2, $3)`,
		departmentID, narrative, generatedAt); err != nil {
		return fmt.Errorf("insert ai insight: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE departments SET dashboard = jsonb_set(coalesce(dashboard, '{}'::jsonb), '{latest_report_url}', to_jsonb($1::text)) WHERE id = $2`,
		blobURL, departmentID); err != nil {
		return fmt.Errorf("update department dashboard: %w", err)
	}
	return nil
}
