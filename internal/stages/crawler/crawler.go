// Package crawler implements the Crawler stage (section 4.4): PDF vs HTML
// detection, a bounded-depth same-origin crawl with per-batch parallel
// fetches, immediate per-page blob upload, and a single embeddings-queue
// emission once the job finishes or its timeout fires.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler crawls one job's worth of URLs to completion or timeout.
type Handler struct {
	rdb             *redis.Client
	cfg             *config.Config
	httpClient      *http.Client
	crawler         aiservices.Crawler
	pdfExtractor    aiservices.PDFExtractor
	blobs           blob.Store
	log             *zap.Logger
	embeddingsQueue string
}

func New(rdb *redis.Client, cfg *config.Config, httpClient *http.Client, crawler aiservices.Crawler,
	pdfExtractor aiservices.PDFExtractor, blobs blob.Store, log *zap.Logger) *Handler {
	return &Handler{
		rdb: rdb, cfg: cfg, httpClient: httpClient, crawler: crawler,
		pdfExtractor: pdfExtractor, blobs: blobs, log: log,
		embeddingsQueue: cfg.Queues.Embeddings,
	}
}

// Handle implements queue.Handler for the webcrawler queue.
func (h *Handler) Handle(ctx context.Context, wire string) queue.Result {
	var msg envelope.CrawlMessage
	if err := envelope.Decode(wire, &msg); err != nil {
		return queue.Quarantine(err.Error())
	}
	if msg.CurrentStatus != "" && msg.CurrentStatus != envelope.StatusWebCrawling {
		return queue.Ok()
	}
	if msg.JobID == "" || msg.URL == "" {
		return queue.Quarantine("missing job_id or url")
	}

	target, err := url.Parse(msg.URL)
	if err != nil || target.Host == "" {
		return queue.Rejected("unparseable url: " + msg.URL)
	}
	domain := target.Host

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Crawler.JobTimeout)
	defer cancel()

	if isPDFURL(target) {
		return h.handlePDF(ctx, msg, target, domain)
	}
	return h.handleHTML(ctx, msg, target, domain)
}

func isPDFURL(u *url.URL) bool {
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func (h *Handler) handlePDF(ctx context.Context, msg envelope.CrawlMessage, target *url.URL, domain string) queue.Result {
	data, err := h.downloadBytes(ctx, target.String())
	if err != nil {
		return queue.Failed(fmt.Errorf("download pdf %s: %w", target, err))
	}
	text, engine, err := h.pdfExtractor.Extract(ctx, data)
	if err != nil {
		return queue.Failed(fmt.Errorf("extract pdf %s: %w", target, err))
	}
	h.log.Info("pdf extracted", obs.String("url", target.String()), obs.String("engine", engine))

	sanitizedPath := sanitizedPageName(target)
	if err := h.blobs.Put(ctx, blob.CrawledContentPath(domain, sanitizedPath), "text/plain", []byte(text)); err != nil {
		return queue.Failed(fmt.Errorf("upload pdf blob: %w", err))
	}
	obs.CrawlerPagesFetched.Inc()
	return h.emitScraped(ctx, msg, domain)
}

func (h *Handler) downloadBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
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
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}

// handleHTML runs the bounded-depth same-origin crawl. Pages are uploaded
// one batch at a time, immediately, so a mid-job crash still leaves a
// usable partial result in blob storage.
func (h *Handler) handleHTML(ctx context.Context, msg envelope.CrawlMessage, target *url.URL, domain string) queue.Result {
	visited := map[string]bool{target.String(): true}
	worklist := []string{target.String()}
	pagesUploaded := 0

	for len(worklist) > 0 && pagesUploaded < h.cfg.Crawler.MaxPages {
		select {
		case <-ctx.Done():
			return h.finishHTML(ctx, msg, domain, pagesUploaded, ctx.Err())
		default:
		}

		batchSize := h.cfg.Crawler.BatchSize
		if batchSize > len(worklist) {
			batchSize = len(worklist)
		}
		batch := worklist[:batchSize]
		worklist = worklist[batchSize:]

		pages, links := h.fetchBatch(ctx, batch)
		for _, page := range pages {
			if pagesUploaded >= h.cfg.Crawler.MaxPages {
				break
			}
			pageURL, err := url.Parse(page.URL)
			if err != nil {
				continue
			}
			if err := h.blobs.Put(ctx, blob.CrawledContentPath(domain, sanitizedPageName(pageURL)), "text/plain", []byte(page.Text)); err != nil {
				h.log.Warn("upload crawled page failed", obs.String("url", page.URL), obs.Err(err))
				continue
			}
			pagesUploaded++
			obs.CrawlerPagesFetched.Inc()
		}

		for _, link := range links {
			resolved, ok := resolveSameOrigin(target, link)
			if !ok || visited[resolved] {
				continue
			}
			visited[resolved] = true
			worklist = append(worklist, resolved)
		}
	}

	return h.finishHTML(ctx, msg, domain, pagesUploaded, nil)
}

func (h *Handler) finishHTML(ctx context.Context, msg envelope.CrawlMessage, domain string, pagesUploaded int, timeoutErr error) queue.Result {
	if pagesUploaded == 0 {
		if timeoutErr != nil {
			return queue.Failed(fmt.Errorf("crawl job timed out with no pages uploaded: %w", timeoutErr))
		}
		return queue.Failed(fmt.Errorf("no pages successfully crawled"))
	}
	if timeoutErr != nil {
		h.log.Warn("crawl job timed out, emitting partial result", obs.String("domain", domain), obs.String("job_id", msg.JobID))
	}
	// Use a detached context for the final emit: the job's own deadline may
	// already have fired, but a partial result earned by real work still
	// deserves to reach the embeddings queue.
	return h.emitScraped(context.WithoutCancel(ctx), msg, domain)
}

func (h *Handler) emitScraped(ctx context.Context, msg envelope.CrawlMessage, domain string) queue.Result {
	out := envelope.EmbeddingsMessage{
		JobID:      msg.JobID,
		URL:        msg.URL,
		BlobFolder: blob.CrawledContentFolder(domain),
		Status:     envelope.StatusScraped,
	}
	if err := queue.Send(ctx, h.rdb, h.embeddingsQueue, out); err != nil {
		return queue.Failed(fmt.Errorf("emit embeddings message: %w", err))
	}
	return queue.Ok()
}

// fetchBatch fetches every URL in batch concurrently and returns the pages
// that succeeded plus every link any of them discovered. A failed fetch is
// logged and dropped; a single bad page in a batch does not fail the job.
func (h *Handler) fetchBatch(ctx context.Context, batch []string) ([]aiservices.Page, []string) {
	var (
		mu    sync.Mutex
		pages []aiservices.Page
		links []string
		wg    sync.WaitGroup
	)
	for _, u := range batch {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := h.crawler.Fetch(ctx, u)
			if err != nil {
				h.log.Warn("fetch page failed", obs.String("url", u), obs.Err(err))
				return
			}
			mu.Lock()
			pages = append(pages, page)
			links = append(links, page.Links...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return pages, links
}

func resolveSameOrigin(base *url.URL, ref string) (string, bool) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(refURL)
	if resolved.Host != base.Host {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

func sanitizedPageName(u *url.URL) string {
	path := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".pdf")
	if path == "" {
		path = "index"
	}
	return blob.SanitizePathSegment(path)
}
