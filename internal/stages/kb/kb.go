// Package kb implements the supplemented Knowledge Base ingestion stage:
// PDF download, text extraction, knowledge-point extraction, embedding,
// and vector-index upsert for one uploaded document (section 9 of the
// expanded design).
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
	"go.uber.org/zap"
)

// chunkSize matches the default chunking window used everywhere else text
// is embedded; the KB stage has no separate tuning knob in the spec.
const chunkSize = 1000

// expectedType is this queue's status-gate discriminator: the knowledgebase
// message shape carries `type` rather than `current_status`.
const expectedType = "pdf_upload"

// Handler downloads a knowledge-base document, extracts its text and
// structured knowledge points, and upserts the embedded chunks.
type Handler struct {
	httpClient   *http.Client
	pdfExtractor aiservices.PDFExtractor
	analyzer     aiservices.TextAnalyzer
	embedder     aiservices.Embedder
	index        vectorindex.Index
	blobs        blob.Store
	log          *zap.Logger
}

func New(httpClient *http.Client, pdfExtractor aiservices.PDFExtractor, analyzer aiservices.TextAnalyzer,
	embedder aiservices.Embedder, index vectorindex.Index, blobs blob.Store, log *zap.Logger) *Handler {
	return &Handler{httpClient: httpClient, pdfExtractor: pdfExtractor, analyzer: analyzer, embedder: embedder, index: index, blobs: blobs, log: log}
}

// Handle implements queue.Handler for the knowledgebase queue.
func (h *Handler) Handle(ctx context.Context, wire string) queue.Result {
	var msg envelope.KnowledgeBaseMessage
	if err := envelope.Decode(wire, &msg); err != nil {
		return queue.Quarantine(err.Error())
	}
	if msg.Type != "" && msg.Type != expectedType {
		return queue.Ok()
	}
	if msg.ID == "" || msg.URL == "" {
		return queue.Quarantine("missing id or url")
	}

	data, err := h.download(ctx, msg.URL)
	if err != nil {
		return queue.Failed(fmt.Errorf("download knowledge base document: %w", err))
	}

	text, engine, err := h.pdfExtractor.Extract(ctx, data)
	if err != nil {
		return queue.Failed(fmt.Errorf("extract document text: %w", err))
	}
	h.log.Info("knowledge base document extracted", obs.String("kb_id", msg.ID), obs.String("engine", engine))

	points, err := h.extractKnowledgePoints(ctx, msg, text)
	if err != nil {
		h.log.Warn("knowledge point extraction failed, continuing with raw chunks", obs.String("kb_id", msg.ID), obs.Err(err))
		points = nil
	}

	chunks := splitChunks(text, chunkSize)
	var vectors []vectorindex.Point
	for i, chunk := range chunks {
		vec, err := h.embedder.Embed(ctx, chunk)
		if err != nil {
			h.log.Warn("embed kb chunk failed", obs.String("kb_id", msg.ID), obs.Err(err))
			continue
		}
		vectors = append(vectors, vectorindex.Point{
			ID:     fmt.Sprintf("%s_chunk_%d", msg.ID, i),
			Vector: vec,
			Payload: map[string]any{
				"kb_id": msg.ID, "department_id": msg.DepartmentID, "file_name": msg.FileName, "chunk_index": i,
			},
		})
	}
	if len(vectors) > 0 {
		if err := h.index.Upsert(ctx, vectors); err != nil {
			return queue.Failed(fmt.Errorf("upsert kb vectors: %w", err))
		}
	}

	processed := map[string]any{
		"kb_id": msg.ID, "file_name": msg.FileName, "department_id": msg.DepartmentID,
		"engine": engine, "knowledge_points": points, "chunk_count": len(chunks),
	}
	processedJSON, err := json.Marshal(processed)
	if err != nil {
		return queue.Failed(fmt.Errorf("marshal processed knowledge base output: %w", err))
	}
	if err := h.blobs.Put(ctx, blob.KnowledgeBaseProcessedPath(msg.ID), "application/json", processedJSON); err != nil {
		return queue.Failed(fmt.Errorf("upload processed knowledge base blob: %w", err))
	}
	return queue.Ok()
}

func (h *Handler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (h *Handler) extractKnowledgePoints(ctx context.Context, msg envelope.KnowledgeBaseMessage, text string) ([]string, error) {
	result, err := h.analyzer.Analyze(ctx, "extract_knowledge_points", map[string]any{
		"department_id": msg.DepartmentID, "file_name": msg.FileName, "text": text,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := result.Structured["points"].([]any)
	if !ok {
		return nil, nil
	}
	points := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			points = append(points, s)
		}
	}
	return points, nil
}

func splitChunks(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
