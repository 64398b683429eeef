package kb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
	"go.uber.org/zap"
)

type fakePDFExtractor struct {
	text string
	err  error
}

func (f fakePDFExtractor) Extract(context.Context, []byte) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.text, "fitz", nil
}

type fakeAnalyzer struct {
	points []any
	err    error
}

func (f fakeAnalyzer) Analyze(context.Context, string, map[string]any) (aiservices.AnalysisResult, error) {
	if f.err != nil {
		return aiservices.AnalysisResult{}, f.err
	}
	return aiservices.AnalysisResult{Structured: map[string]any{"points": f.points}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{0.1, 0.2}, nil }
func (fakeEmbedder) Dimension() int                                   { return 2 }

type fakeIndex struct {
	upserted []vectorindex.Point
}

func (f *fakeIndex) Upsert(_ context.Context, points []vectorindex.Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}
func (f *fakeIndex) Search(context.Context, []float32, int, map[string]string) ([]vectorindex.SearchResult, error) {
	return nil, nil
}
func (f *fakeIndex) EnsureCollection(context.Context, int) error { return nil }

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

func testHandler(t *testing.T, extractor aiservices.PDFExtractor, analyzer aiservices.TextAnalyzer) (*Handler, *fakeIndex, *fakeBlobStore) {
	t.Helper()
	index := &fakeIndex{}
	blobs := newFakeBlobStore()
	h := New(http.DefaultClient, extractor, analyzer, fakeEmbedder{}, index, blobs, zap.NewNop())
	return h, index, blobs
}

func encodeKB(t *testing.T, msg envelope.KnowledgeBaseMessage) string {
	t.Helper()
	wire, err := envelope.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	return wire
}

func TestHandleQuarantinesMissingIDOrURL(t *testing.T) {
	h, _, _ := testHandler(t, fakePDFExtractor{text: "x"}, fakeAnalyzer{})
	result := h.Handle(context.Background(), encodeKB(t, envelope.KnowledgeBaseMessage{Type: "pdf_upload"}))
	if result.Outcome != queue.Quarantined {
		t.Fatalf("expected quarantine, got %v", result.Outcome)
	}
}

func TestHandleQuarantinesMalformedEnvelope(t *testing.T) {
	h, _, _ := testHandler(t, fakePDFExtractor{text: "x"}, fakeAnalyzer{})
	result := h.Handle(context.Background(), "not-base64-json")
	if result.Outcome != queue.Quarantined {
		t.Fatalf("expected quarantine, got %v", result.Outcome)
	}
}

func TestHandleDropsMessageWithMismatchedType(t *testing.T) {
	h, _, _ := testHandler(t, fakePDFExtractor{text: "x"}, fakeAnalyzer{})
	msg := envelope.KnowledgeBaseMessage{ID: "kb-1", URL: "https://example.gov/doc.pdf", Type: "manual_entry"}
	result := h.Handle(context.Background(), encodeKB(t, msg))
	if result.Outcome != queue.Success {
		t.Fatalf("expected silent drop (success outcome), got %v", result.Outcome)
	}
}

func TestHandleDownloadsExtractsEmbedsAndUploadsBlob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake document bytes"))
	}))
	defer server.Close()

	longText := ""
	for i := 0; i < 2500; i++ {
		longText += "a"
	}
	h, index, blobs := testHandler(t, fakePDFExtractor{text: longText}, fakeAnalyzer{points: []any{"point one", "point two"}})

	msg := envelope.KnowledgeBaseMessage{ID: "kb-1", Type: "pdf_upload", URL: server.URL, FileName: "manual.pdf", DepartmentID: "dept-1"}
	result := h.Handle(context.Background(), encodeKB(t, msg))
	if result.Outcome != queue.Success {
		t.Fatalf("expected success, got %v (%s) %v", result.Outcome, result.Reason, result.Err)
	}

	if len(index.upserted) != 3 {
		t.Fatalf("expected 3 chunks upserted for 2500 chars at size 1000, got %d", len(index.upserted))
	}
	for i, p := range index.upserted {
		want := "kb-1_chunk_" + strconv.Itoa(i)
		if p.ID != want {
			t.Fatalf("point %d id = %s, want %s", i, p.ID, want)
		}
	}

	blobData, ok := blobs.puts["knowledgebase/processed/kb-1/knowledge_base.json"]
	if !ok {
		t.Fatal("expected processed knowledge base blob to be written")
	}
	var processed map[string]any
	if err := json.Unmarshal(blobData, &processed); err != nil {
		t.Fatalf("unmarshal processed blob: %v", err)
	}
	if processed["kb_id"] != "kb-1" {
		t.Fatalf("expected kb_id in processed blob, got %+v", processed)
	}
	points, ok := processed["knowledge_points"].([]any)
	if !ok || len(points) != 2 {
		t.Fatalf("expected 2 knowledge points in processed blob, got %+v", processed["knowledge_points"])
	}
}

func TestHandleContinuesWithoutKnowledgePointsOnAnalyzerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some text content"))
	}))
	defer server.Close()

	h, index, blobs := testHandler(t, fakePDFExtractor{text: "short body text"}, fakeAnalyzer{err: errBoom})
	msg := envelope.KnowledgeBaseMessage{ID: "kb-2", URL: server.URL, FileName: "f.pdf", DepartmentID: "dept-2"}
	result := h.Handle(context.Background(), encodeKB(t, msg))
	if result.Outcome != queue.Success {
		t.Fatalf("expected success despite analyzer failure, got %v", result.Outcome)
	}
	if len(index.upserted) != 1 {
		t.Fatalf("expected 1 chunk upserted, got %d", len(index.upserted))
	}
	if _, ok := blobs.puts["knowledgebase/processed/kb-2/knowledge_base.json"]; !ok {
		t.Fatal("expected processed blob written even when knowledge point extraction fails")
	}
}

func TestHandleFailsOnExtractorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	defer server.Close()

	h, _, _ := testHandler(t, fakePDFExtractor{err: errBoom}, fakeAnalyzer{})
	msg := envelope.KnowledgeBaseMessage{ID: "kb-3", URL: server.URL, FileName: "f.pdf"}
	result := h.Handle(context.Background(), encodeKB(t, msg))
	if result.Outcome != queue.Transient {
		t.Fatalf("expected transient failure, got %v", result.Outcome)
	}
}

func TestSplitChunksCutsFixedSizeWindows(t *testing.T) {
	chunks := splitChunks("hello world", 5)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestSplitChunksReturnsNilForBlankText(t *testing.T) {
	if chunks := splitChunks("   ", 10); chunks != nil {
		t.Fatalf("expected nil chunks for blank text, got %v", chunks)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
