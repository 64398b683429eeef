package aiservices

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
)

// FitzPDFExtractor implements the two-engine fallback of section 4.4: a
// high-quality MuPDF-backed extraction first, falling back to a raw byte
// scan for streams go-fitz can't open.
type FitzPDFExtractor struct{}

func NewFitzPDFExtractor() *FitzPDFExtractor { return &FitzPDFExtractor{} }

func (f *FitzPDFExtractor) Extract(_ context.Context, data []byte) (string, string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err == nil {
		defer doc.Close()
		var sb strings.Builder
		for i := 0; i < doc.NumPage(); i++ {
			text, err := doc.Text(i)
			if err != nil {
				continue
			}
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		if sb.Len() > 0 {
			return sb.String(), "fitz", nil
		}
	}

	text, fallbackErr := extractPlainText(data)
	if fallbackErr != nil {
		return "", "", fmt.Errorf("pdf extraction failed on both engines: fitz=%v fallback=%w", err, fallbackErr)
	}
	return text, "fallback-scan", nil
}

// extractPlainText pulls printable-ASCII runs out of a PDF byte stream
// directly, a crude but dependency-free second engine for malformed PDFs
// go-fitz refuses to open.
func extractPlainText(data []byte) (string, error) {
	var sb strings.Builder
	var run bytes.Buffer
	flush := func() {
		if run.Len() >= 4 {
			sb.Write(run.Bytes())
			sb.WriteByte('\n')
		}
		run.Reset()
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			run.WriteByte(b)
		} else {
			flush()
		}
	}
	flush()
	if sb.Len() == 0 {
		return "", fmt.Errorf("no printable text found")
	}
	return sb.String(), nil
}
