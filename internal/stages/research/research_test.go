package research

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/grievance"
	"github.com/civicpipeline/grievance-pipeline/internal/pattern"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeSearch struct {
	hits []aiservices.SearchHit
}

func (f *fakeSearch) Search(context.Context, []string) ([]aiservices.SearchHit, error) {
	return f.hits, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(context.Context, string, map[string]any) (aiservices.AnalysisResult, error) {
	return aiservices.AnalysisResult{Raw: "summary"}, nil
}

func testProcessor(t *testing.T, search aiservices.WebSearch) (*Processor, sqlmock.Sqlmock, *redis.Client) {
	t.Helper()
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := zap.NewNop()
	grievances := grievance.NewRepository(db, log)
	patterns := pattern.NewRepository(db, cfg)
	p := New(rdb, cfg, grievances, patterns, search, fakeAnalyzer{}, log)
	return p, mock, rdb
}

func TestProcessReusesPatternAboveThreshold(t *testing.T) {
	p, mock, _ := testProcessor(t, &fakeSearch{})

	mock.ExpectQuery("SELECT embedding").WillReturnRows(
		sqlmock.NewRows([]string{"embedding"}).AddRow(vectorLiteral()))
	mock.ExpectQuery("FROM grievance_patterns").WillReturnRows(
		sqlmock.NewRows([]string{"pattern_id", "pattern_name", "pattern_description", "pattern_embedding", "research_report", "research_sources", "grievance_count", "similarity"}).
			AddRow("p1", "Roads in Zone A", "desc", vectorLiteral(), []byte(`{"sections":{}}`), []byte(`["https://example.gov/a"]`), 3, 0.92))
	mock.ExpectExec("INSERT INTO grievance_pattern_map").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE grievances").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := p.Process(context.Background(), "g1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessRunsFullResearchBelowThreshold(t *testing.T) {
	hits := []aiservices.SearchHit{
		{URL: "https://example.gov/scheme", Title: "Road Repair Scheme", Snippet: strings.Repeat("relevant content ", 10), Score: 0.8},
		{URL: "not a url", Title: "bad", Snippet: strings.Repeat("x", 200), Score: 0.9},
	}
	p, mock, rdb := testProcessor(t, &fakeSearch{hits: hits})

	mock.ExpectQuery("SELECT embedding").WillReturnRows(
		sqlmock.NewRows([]string{"embedding"}).AddRow(vectorLiteral()))
	mock.ExpectQuery("FROM grievance_patterns").WillReturnRows(sqlmock.NewRows(
		[]string{"pattern_id", "pattern_name", "pattern_description", "pattern_embedding", "research_report", "research_sources", "grievance_count", "similarity"}))
	mock.ExpectQuery("SELECT category, extracted_address").WillReturnRows(
		sqlmock.NewRows([]string{"category", "extracted_address"}).AddRow([]byte(`{"main_category":"Roads"}`), "Zone A"))
	mock.ExpectQuery("INSERT INTO grievance_patterns").WillReturnRows(sqlmock.NewRows([]string{"pattern_id"}).AddRow("p2"))
	mock.ExpectExec("INSERT INTO grievance_pattern_map").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE grievances").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := p.Process(context.Background(), "g2"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	n, err := rdb.LLen(context.Background(), p.crawlQueue).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one valid url emitted to crawl queue, got %d", n)
	}
}

func TestValidHitRejectsLowScoreShortContentAndBadURL(t *testing.T) {
	cases := []aiservices.SearchHit{
		{URL: "https://x.gov/a", Title: "t", Snippet: strings.Repeat("a", 200), Score: 0.1},
		{URL: "https://x.gov/a", Title: "t", Snippet: "short", Score: 0.9},
		{URL: "https://x.gov/a", Title: "", Snippet: strings.Repeat("a", 200), Score: 0.9},
		{URL: "not-a-url", Title: "t", Snippet: strings.Repeat("a", 200), Score: 0.9},
	}
	for _, c := range cases {
		if validHit(c) {
			t.Fatalf("expected invalid: %+v", c)
		}
	}
}

func vectorLiteral() string {
	return "[0.1,0.2,0.3]"
}
