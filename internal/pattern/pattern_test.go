package pattern

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/pgvector/pgvector-go"
)

func TestGenerateName(t *testing.T) {
	cases := []struct{ category, location, want string }{
		{"Sanitation", "Indiranagar", "Sanitation in Indiranagar"},
		{"Sanitation", "", "Sanitation"},
		{"", "Indiranagar", "Indiranagar"},
	}
	for _, c := range cases {
		if got := GenerateName(c.category, c.location); got != c.want {
			t.Errorf("GenerateName(%q, %q) = %q, want %q", c.category, c.location, got, c.want)
		}
	}
}

func TestFindSimilarReturnsNilBelowThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Pattern.SimilarityThreshold = 0.85

	rows := sqlmock.NewRows([]string{
		"pattern_id", "pattern_name", "pattern_description", "pattern_embedding",
		"research_report", "research_sources", "grievance_count", "similarity",
	}).AddRow("p1", "Sanitation in Indiranagar", "", pgvector.NewVector([]float32{0.1, 0.2}), []byte(`{}`), []byte(`[]`), 3, 0.5)
	mock.ExpectQuery("SELECT pattern_id").WillReturnRows(rows)

	repo := NewRepository(db, cfg)
	match, err := repo.FindSimilar(context.Background(), []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match below threshold, got %+v", match)
	}
}

func TestFindSimilarReturnsMatchAboveThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Pattern.SimilarityThreshold = 0.85

	rows := sqlmock.NewRows([]string{
		"pattern_id", "pattern_name", "pattern_description", "pattern_embedding",
		"research_report", "research_sources", "grievance_count", "similarity",
	}).AddRow("p1", "Sanitation in Indiranagar", "", pgvector.NewVector([]float32{0.1, 0.2}), []byte(`{"summary":"ok"}`), []byte(`["https://x"]`), 3, 0.92)
	mock.ExpectQuery("SELECT pattern_id").WillReturnRows(rows)

	repo := NewRepository(db, cfg)
	match, err := repo.FindSimilar(context.Background(), []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if match == nil || match.Pattern.ID != "p1" {
		t.Fatalf("expected a match, got %+v", match)
	}
}

func TestLinkGrievanceUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	cfg, _ := config.Load("nonexistent.yaml")
	mock.ExpectExec("INSERT INTO grievance_pattern_map").WithArgs("g1", "p1", 0.92).WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewRepository(db, cfg)
	if err := repo.LinkGrievance(context.Background(), "g1", "p1", 0.92); err != nil {
		t.Fatalf("link grievance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
