package watermark

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

func newProcessor(t *testing.T, opts Options) *Processor {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img
}

func TestAnnotateCopiesInput(t *testing.T) {
	t.Parallel()

	p := newProcessor(t, Options{})
	src := solid(800, 600)
	before := append([]byte(nil), src.Pix...)

	out, err := p.Annotate(src, "Captured: now\nDashboard: ops")
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if !bytes.Equal(src.Pix, before) {
		t.Fatalf("Annotate() modified its input")
	}
	if out.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
	// bottom-right banner darkens the corner, top-left stays untouched
	if got := color.RGBAModel.Convert(out.At(770, 570)).(color.RGBA); got.R >= 0x80 {
		t.Fatalf("banner pixel = %v, want darker than source", got)
	}
	if got := color.RGBAModel.Convert(out.At(5, 5)).(color.RGBA); got.R != 0x80 {
		t.Fatalf("pixel outside banner = %v, want source", got)
	}
}

func TestAnnotateDeterministic(t *testing.T) {
	t.Parallel()

	p := newProcessor(t, Options{Position: TopLeft})
	a, errA := p.Annotate(solid(640, 480), "Captured: x\nDashboard: y")
	b, errB := p.Annotate(solid(640, 480), "Captured: x\nDashboard: y")
	if errA != nil || errB != nil {
		t.Fatalf("Annotate() errors = %v, %v", errA, errB)
	}
	if !bytes.Equal(a.(*image.RGBA).Pix, b.(*image.RGBA).Pix) {
		t.Fatalf("identical inputs produced different output")
	}
}

func TestAnnotateTooSmallReturnsOriginal(t *testing.T) {
	t.Parallel()

	p := newProcessor(t, Options{})
	src := solid(40, 20)
	out, err := p.Annotate(src, "Captured: now\nDashboard: ops")
	var w *Warning
	if !errors.As(err, &w) || !errors.Is(err, ErrLabelTooLarge) {
		t.Fatalf("Annotate() error = %v, want *Warning wrapping ErrLabelTooLarge", err)
	}
	if out != image.Image(src) {
		t.Fatalf("Annotate() should return the original image on failure")
	}
}

func TestAnnotatePNGCorruptBytes(t *testing.T) {
	t.Parallel()

	p := newProcessor(t, Options{})
	raw := []byte("not a png")
	out, err := p.AnnotatePNG(raw, "label")
	var w *Warning
	if !errors.As(err, &w) {
		t.Fatalf("AnnotatePNG() error = %v, want *Warning", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("AnnotatePNG() should hand back the original bytes")
	}
}

func TestAnnotatePNGRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(800, 600)); err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := newProcessor(t, Options{})
	out, err := p.AnnotatePNG(buf.Bytes(), "Captured: now\nDashboard: ops")
	if err != nil {
		t.Fatalf("AnnotatePNG() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 800 {
		t.Fatalf("width = %d, want 800", img.Bounds().Dx())
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	p := newProcessor(t, Options{Location: ny})
	at := time.Date(2026, 7, 4, 16, 30, 0, 0, time.UTC)
	want := "Captured: 2026-07-04 12:30:00 EDT\nDashboard: Ops Overview"
	if got := p.Label(at, "Ops Overview"); got != want {
		t.Fatalf("Label() = %q, want %q", got, want)
	}
}

func TestParsePosition(t *testing.T) {
	t.Parallel()

	if p, err := ParsePosition(" Top-Right "); err != nil || p != TopRight {
		t.Fatalf("ParsePosition() = %q, %v", p, err)
	}
	if _, err := ParsePosition("middle"); err == nil {
		t.Fatalf("ParsePosition(middle) should fail")
	}
}
