package escalation

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), mock
}

func TestPickOfficerReturnsFirstMatch(t *testing.T) {
	r, mock := testRepo(t)
	mock.ExpectQuery("FROM departmentofficers").
		WithArgs("dept-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("officer-1"))

	id, err := r.PickOfficer(context.Background(), "dept-1")
	if err != nil {
		t.Fatalf("PickOfficer: %v", err)
	}
	if id != "officer-1" {
		t.Fatalf("expected officer-1, got %q", id)
	}
}

func TestPickOfficerReturnsEmptyWhenNoneFound(t *testing.T) {
	r, mock := testRepo(t)
	mock.ExpectQuery("FROM departmentofficers").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	id, err := r.PickOfficer(context.Background(), "dept-1")
	if err != nil {
		t.Fatalf("PickOfficer: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty officer id, got %q", id)
	}
}

func TestAlreadyEscalatedTrue(t *testing.T) {
	r, mock := testRepo(t)
	mock.ExpectQuery("FROM grievanceescalations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("esc-1"))

	ok, err := r.AlreadyEscalated(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("AlreadyEscalated: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestSaveAppliesCasing(t *testing.T) {
	r, mock := testRepo(t)
	casing := EnumCasing{severities: map[string]string{"critical": "Critical"}}
	mock.ExpectExec("INSERT INTO grievanceescalations").
		WithArgs("g-1", "officer-1", "Critical", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := r.Save(context.Background(), "g-1", "officer-1", LevelImmediate, casing, []string{"overdue"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
}
