package departments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/pgvector/pgvector-go"
)

// Repository is the departments table reader.
type Repository struct {
	db    *sql.DB
	alpha float64
}

func NewRepository(db *sql.DB, cfg *config.Config) *Repository {
	return &Repository{db: db, alpha: cfg.Departments.EmbeddingWeight}
}

// Allocate finds the best-matching department for a grievance, restricting
// candidates to a name/description match AND an address/jurisdiction
// match before ranking, the same two-clause filter the original allocator
// applied ahead of its distance ordering. When latitude/longitude are both
// present, candidates are further restricted to departments with known
// coordinates and ranked by the combined embedding/geographic score;
// otherwise ranking falls back to embedding distance alone.
func (r *Repository) Allocate(ctx context.Context, location, recommendedDept, address string, embedding []float32, lat, lon *float64) (*Allocation, error) {
	vec := pgvector.NewVector(embedding)
	deptPattern := "%" + recommendedDept + "%"
	locationPattern := "%" + location + "%"

	var row *sql.Row
	hasGeo := lat != nil && lon != nil

	if hasGeo {
		query := `
			SELECT id, name, description, address, contact_information, jurisdiction,
			       latitude, longitude,
			       embedding <=> $1 AS embedding_distance,
			       6371 * acos(
			           cos(radians($2)) * cos(radians(coalesce(latitude, 0))) *
			           cos(radians(coalesce(longitude, 0)) - radians($3)) +
			           sin(radians($2)) * sin(radians(coalesce(latitude, 0)))
			       ) AS geo_distance_km
			FROM departments
			WHERE (lower(name) LIKE lower($4) OR lower(description) LIKE lower($4))
			  AND (lower(address) LIKE lower($5) OR lower(jurisdiction) LIKE lower($5))
			  AND latitude IS NOT NULL AND longitude IS NOT NULL
			ORDER BY (embedding <=> $1) * $6 + (
			    (6371 * acos(
			        cos(radians($2)) * cos(radians(coalesce(latitude, 0))) *
			        cos(radians(coalesce(longitude, 0)) - radians($3)) +
			        sin(radians($2)) * sin(radians(coalesce(latitude, 0)))
			    )) / 100 * $7
			LIMIT 1`
		row = r.db.QueryRowContext(ctx, query, vec, *lat, *lon, deptPattern, locationPattern, r.alpha, 1-r.alpha)
	} else {
		query := `
			SELECT id, name, description, address, contact_information, jurisdiction,
			       latitude, longitude,
			       embedding <=> $1 AS embedding_distance,
			       NULL AS geo_distance_km
			FROM departments
			WHERE (lower(name) LIKE lower($2) OR lower(description) LIKE lower($2))
			  AND (lower(address) LIKE lower($3) OR lower(jurisdiction) LIKE lower($3))
			ORDER BY embedding <=> $1
			LIMIT 1`
		row = r.db.QueryRowContext(ctx, query, vec, deptPattern, locationPattern)
	}

	var a Allocation
	var embDistance float64
	var geoDistance sql.NullFloat64
	err := row.Scan(&a.Department.ID, &a.Department.Name, &a.Department.Description, &a.Department.Address,
		&a.Department.ContactInformation, &a.Department.Jurisdiction, &a.Department.Latitude, &a.Department.Longitude,
		&embDistance, &geoDistance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("allocate department: %w", err)
	}

	a.MatchScore = 1 - embDistance
	if geoDistance.Valid {
		d := geoDistance.Float64
		a.DistanceKM = &d
	}
	return &a, nil
}

// ByID fetches a department by primary key, used when an escalation
// already knows which department it belongs to.
func (r *Repository) ByID(ctx context.Context, id string) (*Department, error) {
	query := `SELECT id, name, description, address, contact_information, jurisdiction FROM departments WHERE id = $1`
	var d Department
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.Description, &d.Address, &d.ContactInformation, &d.Jurisdiction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch department by id: %w", err)
	}
	return &d, nil
}
