package departments

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
)

func testRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	return NewRepository(db, cfg), mock
}

func TestAllocateWithCoordinatesUsesGeoQuery(t *testing.T) {
	r, mock := testRepo(t)
	lat, lon := 19.0, 72.8
	rows := sqlmock.NewRows([]string{"id", "name", "description", "address", "contact_information", "jurisdiction", "latitude", "longitude", "embedding_distance", "geo_distance_km"}).
		AddRow("d1", "Roads Dept", "desc", "addr", "contact", "Zone A", 19.01, 72.81, 0.1, 2.5)
	mock.ExpectQuery("FROM departments").WillReturnRows(rows)

	a, err := r.Allocate(context.Background(), "Zone A", "Roads", "addr", []float32{0.1, 0.2}, &lat, &lon)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a == nil {
		t.Fatal("expected a match")
	}
	if a.Department.Name != "Roads Dept" {
		t.Fatalf("unexpected department: %+v", a.Department)
	}
	if a.MatchScore != 0.9 {
		t.Fatalf("expected match score 0.9, got %v", a.MatchScore)
	}
	if a.DistanceKM == nil || *a.DistanceKM != 2.5 {
		t.Fatalf("expected distance 2.5km, got %v", a.DistanceKM)
	}
}

func TestAllocateWithoutCoordinatesUsesEmbeddingOnlyQuery(t *testing.T) {
	r, mock := testRepo(t)
	rows := sqlmock.NewRows([]string{"id", "name", "description", "address", "contact_information", "jurisdiction", "latitude", "longitude", "embedding_distance", "geo_distance_km"}).
		AddRow("d2", "Water Dept", "desc", "addr", "contact", "Zone B", nil, nil, 0.3, nil)
	mock.ExpectQuery("FROM departments").WillReturnRows(rows)

	a, err := r.Allocate(context.Background(), "Zone B", "Water", "addr", []float32{0.1, 0.2}, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.DistanceKM != nil {
		t.Fatalf("expected nil distance, got %v", *a.DistanceKM)
	}
}

func TestAllocateReturnsNilWhenNoMatch(t *testing.T) {
	r, mock := testRepo(t)
	mock.ExpectQuery("FROM departments").WillReturnRows(sqlmock.NewRows(
		[]string{"id", "name", "description", "address", "contact_information", "jurisdiction", "latitude", "longitude", "embedding_distance", "geo_distance_km"}))

	a, err := r.Allocate(context.Background(), "Nowhere", "Unknown", "addr", []float32{0.1}, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a != nil {
		t.Fatalf("expected no match, got %+v", a)
	}
}
