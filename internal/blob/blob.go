// Package blob implements the S3-compatible object store and the path
// conventions every stage uses when writing artifacts (section 6).
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
)

// Store is the minimal blob interface every stage handler depends on.
// Handlers are written against this interface, not the S3 client, so
// tests can substitute an in-memory fake.
type Store interface {
	Put(ctx context.Context, path, contentType string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3Store is the production Store backed by an S3-compatible bucket.
type S3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
}

// NewS3Store builds an S3Store from config. Endpoint and ForcePathStyle
// exist so the same code targets AWS S3 or an S3-compatible store behind
// a different endpoint without a build-time switch.
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Blob.Region),
		S3ForcePathStyle: aws.Bool(cfg.Blob.ForcePathStyle),
	}
	if cfg.Blob.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Blob.Endpoint)
	}
	if cfg.Blob.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.Blob.AccessKeyID, cfg.Blob.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("new aws session: %w", err)
	}
	return &S3Store{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     cfg.Blob.Bucket,
	}, nil
}

// Put uploads data at path. Overwrite is allowed: every writer in this
// pipeline either writes a fresh path or idempotently republishes the
// same content under the same path.
func (s *S3Store) Put(ctx context.Context, path, contentType string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", path, err)
	}
	return nil
}

// Get downloads the blob at path.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// List returns every object key under prefix, used by the Embeddings
// stage to enumerate a blob folder's text artifacts.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs under %s: %w", prefix, err)
	}
	return keys, nil
}

// CrawledContentPath is where the Crawler stage writes one cleaned page.
func CrawledContentPath(domain, sanitizedPath string) string {
	return fmt.Sprintf("crawled-content/%s/%s.txt", domain, sanitizedPath)
}

// CrawledContentFolder is the blob_folder value emitted to the embeddings
// queue; it names the domain's whole crawl output, not a single page.
func CrawledContentFolder(domain string) string {
	return fmt.Sprintf("crawled-content/%s", domain)
}

// LegacyCrawledContentFolder is the pre-convention prefix the Embeddings
// stage must still recognize for backward compatibility.
func LegacyCrawledContentFolder(domain string) string {
	return fmt.Sprintf("scraped-content/%s", domain)
}

// KnowledgeBaseProcessedPath is where the KB ingestion stage writes its
// structured output for one uploaded document.
func KnowledgeBaseProcessedPath(kbID string) string {
	return fmt.Sprintf("knowledgebase/processed/%s/knowledge_base.json", kbID)
}

// ProgressReportPath is where the Progress stage uploads a department's
// narrative report, timestamped to the second it was generated.
func ProgressReportPath(departmentID string, generatedAt time.Time) string {
	return fmt.Sprintf("progress-reports/%s/%s.md", departmentID, generatedAt.UTC().Format("20060102_150405"))
}

// GrievanceArtifactPath is where the QueryAnalyst stage uploads a
// grievance's report bundle; the "griviences" prefix preserves a
// historic misspelling that downstream consumers already depend on.
func GrievanceArtifactPath(grievanceID, fileName string) string {
	return fmt.Sprintf("griviences/%s/%s", grievanceID, fileName)
}

// SanitizePathSegment replaces characters that are unsafe in a blob key
// with underscores, collapsing repeats.
func SanitizePathSegment(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.'
		if safe {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
