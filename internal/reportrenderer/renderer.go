// Package reportrenderer turns a QueryAnalyst report into a PDF behind an
// interface, so the stage core never depends on a specific rendering
// library (section 9's design note on markdown-to-PDF rendering).
package reportrenderer

import (
	"context"
	"fmt"
	"strings"
)

// Renderer renders a markdown report to PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, markdown string) ([]byte, error)
}

// MinimalPDFRenderer writes markdown as plain text inside a single-page
// PDF container. It exists only to give Renderer a working default that
// does not pull in a rendering engine of its own; production deployments
// wanting styled output supply their own Renderer.
type MinimalPDFRenderer struct{}

func NewMinimalPDFRenderer() *MinimalPDFRenderer { return &MinimalPDFRenderer{} }

func (r *MinimalPDFRenderer) RenderPDF(_ context.Context, markdown string) ([]byte, error) {
	lines := strings.Split(stripMarkdown(markdown), "\n")
	var content strings.Builder
	content.WriteString("BT /F1 10 Tf 40 760 Td 14 TL\n")
	for _, line := range lines {
		content.WriteString("(" + escapePDFString(line) + ") Tj T*\n")
	}
	content.WriteString("ET")
	stream := content.String()

	var buf strings.Builder
	offsets := make([]int, 0, 5)
	write := func(s string) { buf.WriteString(s) }

	write("%PDF-1.4\n")
	offsets = append(offsets, buf.Len())
	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	write("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	write("3 0 obj\n<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> >> /MediaBox [0 0 612 792] /Contents 5 0 R >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	write("4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	write(fmt.Sprintf("5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(stream), stream))

	xrefStart := buf.Len()
	write(fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1))
	for _, off := range offsets {
		write(fmt.Sprintf("%010d 00000 n \n", off))
	}
	write(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xrefStart))

	return []byte(buf.String()), nil
}

func stripMarkdown(s string) string {
	replacer := strings.NewReplacer("#", "", "*", "", "_", "")
	return replacer.Replace(s)
}

func escapePDFString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(s)
}
