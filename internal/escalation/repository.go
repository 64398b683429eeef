package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repository is the grievanceescalations / departmentofficers store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PickOfficer returns the first available officer in a department, the
// same "first available" selection escalation_analyzer.py used rather
// than any load-balancing scheme.
func (r *Repository) PickOfficer(ctx context.Context, departmentID string) (string, error) {
	var officerID string
	query := `SELECT user_id FROM departmentofficers WHERE department_id = $1 LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, departmentID).Scan(&officerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pick officer: %w", err)
	}
	return officerID, nil
}

// AlreadyEscalated reports whether an unresolved escalation exists for a
// grievance, so a crash-and-redeliver never double-escalates it.
func (r *Repository) AlreadyEscalated(ctx context.Context, grievanceID string) (bool, error) {
	var id string
	query := `SELECT id FROM grievanceescalations WHERE grievance_id = $1 AND is_resolved = false`
	err := r.db.QueryRowContext(ctx, query, grievanceID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing escalation: %w", err)
	}
	return true, nil
}

// Save inserts an escalation row, using the casing the enum-casing probe
// determined the grievanceescalations.escalation_level column accepts.
func (r *Repository) Save(ctx context.Context, grievanceID, officerID string, level Level, casing EnumCasing, reasons []string) error {
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal escalation reasons: %w", err)
	}
	query := `
		INSERT INTO grievanceescalations (grievance_id, escalated_to_officer_id, escalation_level, reason, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, false, now())`
	_, err = r.db.ExecContext(ctx, query, grievanceID, officerID, casing.Apply(level), reasonsJSON)
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}
