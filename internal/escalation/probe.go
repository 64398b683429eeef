package escalation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EnumCasing is the literal casing a target enum column accepts, resolved
// once at startup instead of the trial-and-error insert loop
// escalation_analyzer.py ran per row. The column stores severity words
// (critical/high/medium/low); levelSeverity below maps each escalation
// Level to the severity word the original's level_mapping preferred.
type EnumCasing struct {
	severities map[string]string
}

var levelSeverity = map[Level]string{
	LevelImmediate: "critical",
	LevelUrgent:    "high",
	LevelPriority:  "medium",
	LevelStandard:  "low",
}

// Apply returns the column literal for a level, falling back to the
// severity word's own spelling if the probe found no matching label.
func (c EnumCasing) Apply(level Level) string {
	severity := levelSeverity[level]
	if severity == "" {
		severity = "medium"
	}
	if c.severities == nil {
		return severity
	}
	if v, ok := c.severities[severity]; ok {
		return v
	}
	return severity
}

// ProbeEnumCasing reads pg_enum to find the accepted label casing for the
// grievanceescalations.escalation_level column's enum type, once, cached
// for the process lifetime by the caller.
func ProbeEnumCasing(ctx context.Context, db *sql.DB) (EnumCasing, error) {
	query := `
		SELECT e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_attribute a ON a.atttypid = t.oid
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = 'grievanceescalations' AND a.attname = 'escalation_level'`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return EnumCasing{}, fmt.Errorf("probe escalation_level enum: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return EnumCasing{}, fmt.Errorf("scan enum label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return EnumCasing{}, fmt.Errorf("iterate enum labels: %w", err)
	}

	casing := EnumCasing{severities: map[string]string{}}
	for _, severity := range []string{"critical", "high", "medium", "low"} {
		casing.severities[severity] = matchCasing(labels, severity)
	}
	return casing, nil
}

// matchCasing finds the enum label that matches want case-insensitively,
// or returns want unchanged if the column doesn't carry a matching label
// at all (the INSERT will then surface the real constraint error).
func matchCasing(labels []string, want string) string {
	for _, label := range labels {
		if strings.EqualFold(label, want) {
			return label
		}
	}
	return want
}
