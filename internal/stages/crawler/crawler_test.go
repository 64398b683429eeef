package crawler

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeCrawler struct {
	pages map[string]aiservices.Page
}

func (f *fakeCrawler) Fetch(_ context.Context, u string) (aiservices.Page, error) {
	p, ok := f.pages[u]
	if !ok {
		return aiservices.Page{}, errNotFound
	}
	return p, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

type fakePDFExtractor struct{}

func (fakePDFExtractor) Extract(context.Context, []byte) (string, string, error) {
	return "extracted pdf text", "fitz", nil
}

type fakeBlobStore struct {
	puts map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{puts: map[string][]byte{}} }

func (f *fakeBlobStore) Put(_ context.Context, path, _ string, data []byte) error {
	f.puts[path] = data
	return nil
}
func (f *fakeBlobStore) Get(context.Context, string) ([]byte, error)    { return nil, nil }
func (f *fakeBlobStore) List(context.Context, string) ([]string, error) { return nil, nil }

func testHandler(t *testing.T, crawler aiservices.Crawler) (*Handler, *redis.Client, *fakeBlobStore) {
	t.Helper()
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blobs := newFakeBlobStore()
	h := New(rdb, cfg, &http.Client{}, crawler, fakePDFExtractor{}, blobs, zap.NewNop())
	return h, rdb, blobs
}

func TestHandleQuarantinesMissingURL(t *testing.T) {
	h, _, _ := testHandler(t, &fakeCrawler{})
	wire, err := envelope.Encode(envelope.CrawlMessage{JobID: "j1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Handle(context.Background(), wire).Outcome; got != queue.Quarantined {
		t.Fatalf("expected quarantined, got %v", got)
	}
}

func TestHandleDropsMessageWithMismatchedStatus(t *testing.T) {
	h, _, _ := testHandler(t, &fakeCrawler{})
	wire, err := envelope.Encode(envelope.CrawlMessage{JobID: "j1", URL: "https://example.gov/", CurrentStatus: envelope.StatusScraped})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Handle(context.Background(), wire).Outcome; got != queue.Success {
		t.Fatalf("expected silent drop (success outcome), got %v", got)
	}
}

func TestHandleCrawlsHTMLSameOriginAndEmitsEmbeddings(t *testing.T) {
	crawler := &fakeCrawler{pages: map[string]aiservices.Page{
		"https://example.gov/": {
			URL: "https://example.gov/", Text: "homepage content long enough to survive cleaning",
			Links: []string{"/about", "https://other.example/offsite"},
		},
		"https://example.gov/about": {
			URL: "https://example.gov/about", Text: "about page content long enough to survive cleaning",
		},
	}}
	h, rdb, blobs := testHandler(t, crawler)

	wire, err := envelope.Encode(envelope.CrawlMessage{JobID: "j1", URL: "https://example.gov/"})
	if err != nil {
		t.Fatal(err)
	}
	result := h.Handle(context.Background(), wire)
	if result.Outcome != queue.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if _, ok := blobs.puts["crawled-content/example.gov/index.txt"]; !ok {
		t.Fatalf("expected homepage blob, got keys %v", keys(blobs.puts))
	}
	if _, ok := blobs.puts["crawled-content/example.gov/about.txt"]; !ok {
		t.Fatalf("expected about-page blob, got keys %v", keys(blobs.puts))
	}
	if len(blobs.puts) != 2 {
		t.Fatalf("expected exactly 2 pages crawled (offsite link excluded), got %d", len(blobs.puts))
	}

	n, err := rdb.LLen(context.Background(), h.embeddingsQueue).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one embeddings message, got %d", n)
	}
}

func TestHandlePDFReportsTransientOnDownloadFailure(t *testing.T) {
	h, _, _ := testHandler(t, &fakeCrawler{})

	wire, err := envelope.Encode(envelope.CrawlMessage{JobID: "j1", URL: "https://example.gov/foo.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	// The PDF path downloads raw bytes over HTTP rather than through the
	// Crawler interface, so point it at nothing reachable and assert the
	// failure is reported as a transient outcome, not a panic.
	result := h.Handle(context.Background(), wire)
	if result.Outcome != queue.Transient {
		t.Fatalf("expected transient failure on unreachable pdf url, got %+v", result)
	}
}

func TestResolveSameOriginRejectsOffsiteLinks(t *testing.T) {
	base := mustParseURL(t, "https://example.gov/")
	if _, ok := resolveSameOrigin(base, "https://other.example/x"); ok {
		t.Fatal("expected offsite link to be rejected")
	}
	resolved, ok := resolveSameOrigin(base, "/about")
	if !ok || resolved != "https://example.gov/about" {
		t.Fatalf("expected resolved same-origin link, got %q ok=%v", resolved, ok)
	}
}

func TestSanitizedPageNameHandlesRootPath(t *testing.T) {
	u := mustParseURL(t, "https://example.gov/")
	if got := sanitizedPageName(u); got != "index" {
		t.Fatalf("expected index, got %q", got)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}
