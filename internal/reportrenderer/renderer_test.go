package reportrenderer

import (
	"context"
	"strings"
	"testing"
)

func TestMinimalPDFRendererProducesValidHeaderAndTrailer(t *testing.T) {
	renderer := NewMinimalPDFRenderer()
	out, err := renderer.RenderPDF(context.Background(), "# Report\nRoad is closed on Main St.")
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !strings.HasPrefix(string(out), "%PDF-1.4") {
		t.Fatalf("expected PDF header, got %q", out[:20])
	}
	if !strings.Contains(string(out), "startxref") {
		t.Fatal("expected xref trailer in output")
	}
	if !strings.Contains(string(out), "Road is closed on Main St") {
		t.Fatal("expected report text embedded in content stream")
	}
}

func TestEscapePDFStringEscapesParensAndBackslash(t *testing.T) {
	got := escapePDFString(`a (b) \ c`)
	if got != `a \(b\) \\ c` {
		t.Fatalf("unexpected escape: %q", got)
	}
}
