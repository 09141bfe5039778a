// Package watermark stamps a capture label onto screenshots.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type Position string

const (
	BottomRight Position = "bottom-right"
	BottomLeft  Position = "bottom-left"
	TopRight    Position = "top-right"
	TopLeft     Position = "top-left"
)

const DefaultTimeFormat = "2006-01-02 15:04:05 MST"

var (
	ErrEmptyImage    = errors.New("watermark: empty image")
	ErrLabelTooLarge = errors.New("watermark: label does not fit image")
)

// Warning is returned with the unmodified input when annotation fails.
// It never invalidates the capture.
type Warning struct{ Err error }

func (w *Warning) Error() string { return "watermark skipped: " + w.Err.Error() }
func (w *Warning) Unwrap() error { return w.Err }

type Options struct {
	Position Position
	Location *time.Location
	// TimeFormat formats the capture time in the label.
	TimeFormat  string
	MinFontSize float64
	// FontScale sizes the font relative to the image width.
	FontScale float64
	Opacity   uint8
	Margin    int
	Padding   int
	LineGap   int
}

func (o Options) withDefaults() Options {
	if o.Position == "" {
		o.Position = BottomRight
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TimeFormat == "" {
		o.TimeFormat = DefaultTimeFormat
	}
	if o.MinFontSize <= 0 {
		o.MinFontSize = 24
	}
	if o.FontScale <= 0 {
		o.FontScale = 0.015
	}
	if o.Opacity == 0 {
		o.Opacity = 180
	}
	if o.Margin <= 0 {
		o.Margin = 20
	}
	if o.Padding <= 0 {
		o.Padding = 12
	}
	if o.LineGap <= 0 {
		o.LineGap = 4
	}
	return o
}

var (
	titleColor  = color.NRGBA{255, 255, 255, 255}
	detailColor = color.NRGBA{200, 200, 255, 255}
	borderColor = color.NRGBA{255, 255, 255, 100}
)

// Processor draws labels. It is safe for concurrent use.
type Processor struct {
	opts Options
	font *opentype.Font
}

func New(opts Options) (*Processor, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("watermark: parse font: %w", err)
	}
	return &Processor{opts: opts.withDefaults(), font: f}, nil
}

// Label builds the standard two-line label for a capture.
func (p *Processor) Label(capturedAt time.Time, name string) string {
	ts := capturedAt.In(p.opts.Location).Format(p.opts.TimeFormat)
	return "Captured: " + ts + "\nDashboard: " + name
}

// Annotate returns a copy of img with label drawn in a translucent banner.
// img is never modified. On failure the original image is returned with a *Warning.
func (p *Processor) Annotate(img image.Image, label string) (out image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = img, &Warning{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return img, &Warning{Err: ErrEmptyImage}
	}
	lines := splitLines(label)
	if len(lines) == 0 {
		return img, nil
	}

	b := img.Bounds()
	size := max(p.opts.MinFontSize, float64(b.Dx())*p.opts.FontScale)
	face, err := opentype.NewFace(p.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return img, &Warning{Err: fmt.Errorf("font face: %w", err)}
	}
	defer face.Close()

	m := face.Metrics()
	ascent := m.Ascent.Ceil()
	lineH := ascent + m.Descent.Ceil()
	textW := 0
	for _, ln := range lines {
		textW = max(textW, font.MeasureString(face, ln).Ceil())
	}
	boxW := textW + 2*p.opts.Padding
	boxH := len(lines)*lineH + (len(lines)-1)*p.opts.LineGap + 2*p.opts.Padding
	if boxW+2*p.opts.Margin > b.Dx() || boxH+2*p.opts.Margin > b.Dy() {
		return img, &Warning{Err: fmt.Errorf("%w: need %dx%d in %dx%d", ErrLabelTooLarge, boxW, boxH, b.Dx(), b.Dy())}
	}
	box := p.place(b, boxW, boxH)

	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	draw.Draw(dst, box, image.NewUniform(color.NRGBA{0, 0, 0, p.opts.Opacity}), image.Point{}, draw.Over)
	strokeRect(dst, box, borderColor)

	d := font.Drawer{Dst: dst, Face: face}
	y := box.Min.Y + p.opts.Padding + ascent
	for i, ln := range lines {
		c := detailColor
		if i == 0 {
			c = titleColor
		}
		d.Src = image.NewUniform(c)
		d.Dot = fixed.P(box.Min.X+p.opts.Padding, y)
		d.DrawString(ln)
		y += lineH + p.opts.LineGap
	}
	return dst, nil
}

// AnnotatePNG is Annotate over encoded PNG bytes. On failure raw is returned unchanged with a *Warning.
func (p *Processor) AnnotatePNG(raw []byte, label string) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return raw, &Warning{Err: fmt.Errorf("decode: %w", err)}
	}
	out, err := p.Annotate(img, label)
	if err != nil {
		return raw, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return raw, &Warning{Err: fmt.Errorf("encode: %w", err)}
	}
	return buf.Bytes(), nil
}

func (p *Processor) place(b image.Rectangle, w, h int) image.Rectangle {
	x := b.Max.X - p.opts.Margin - w
	y := b.Max.Y - p.opts.Margin - h
	switch p.opts.Position {
	case TopRight:
		y = b.Min.Y + p.opts.Margin
	case TopLeft:
		x, y = b.Min.X+p.opts.Margin, b.Min.Y+p.opts.Margin
	case BottomLeft:
		x = b.Min.X + p.opts.Margin
	}
	return image.Rect(x, y, x+w, y+h)
}

func strokeRect(dst draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+1, r.Min.X+1, r.Max.Y-1),
		image.Rect(r.Max.X-1, r.Min.Y+1, r.Max.X, r.Max.Y-1),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Over)
	}
}

func splitLines(label string) []string {
	var out []string
	for _, ln := range strings.Split(label, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// ParsePosition maps a config string to a Position, defaulting to BottomRight.
func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return BottomRight, nil
	case BottomRight, BottomLeft, TopRight, TopLeft:
		return p, nil
	default:
		return "", fmt.Errorf("watermark: unknown position %q", s)
	}
}
