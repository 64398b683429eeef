package grievance

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

func TestPersistWarnsOnZeroRowcountWithoutError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("UPDATE grievances").WillReturnResult(sqlmock.NewResult(0, 0))

	log, _ := zap.NewDevelopment()
	repo := NewRepository(db, log)

	a := Analysis{
		EnhancedQuery: "pothole near MG Road",
		Category:      Category{MainCategory: "Sanitation"},
		Embedding:     pgvector.NewVector([]float32{0.1, 0.2, 0.3}),
	}
	if err := repo.Persist(context.Background(), "row-1", a); err != nil {
		t.Fatalf("expected zero-rowcount to be tolerated, got error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordValidationRejection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("UPDATE grievances").WithArgs(false, 0.2, "row-1").WillReturnResult(sqlmock.NewResult(0, 1))

	log, _ := zap.NewDevelopment()
	repo := NewRepository(db, log)
	v := Validation{IsValid: false, Confidence: 0.2}
	if err := repo.RecordValidationRejection(context.Background(), "row-1", v); err != nil {
		t.Fatalf("record validation rejection: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
