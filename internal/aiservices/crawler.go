package aiservices

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// GoqueryCrawler fetches and parses HTML pages with goquery, the same
// library the research retrieval pack reaches for whenever it needs more
// than a regex over raw HTML.
type GoqueryCrawler struct {
	client *http.Client
}

func NewGoqueryCrawler(client *http.Client) *GoqueryCrawler {
	return &GoqueryCrawler{client: client}
}

func (c *GoqueryCrawler) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build crawl request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}

	doc.Find("nav, footer, script, style").Remove()
	text := cleanText(doc.Find("body").Text())

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})

	return Page{URL: url, ContentType: contentType, Text: text, Links: links}, nil
}

// cleanText strips short, low-alpha, or duplicate-consecutive lines,
// matching the Crawler stage's page-cleaning rule (section 4.4).
func cleanText(raw string) string {
	lines := strings.Split(raw, "\n")
	var out []string
	var prev string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == prev {
			continue
		}
		if len(line) < 20 || !hasEnoughAlpha(line) {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, "\n")
}

func hasEnoughAlpha(s string) bool {
	alpha := 0
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	return float64(alpha)/float64(len(s)) >= 0.5
}
