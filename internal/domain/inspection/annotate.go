package inspection

import (
	"bytes"
	"fmt"
	stdimage "image"
	"image/color"
	"image/jpeg"
	"strconv"

	"golang.org/x/image/draw"

	"sunforge-server/internal/domain/image"
)

// Annotate returns a copy of src with every overlay in m stroked in its
// severity colour. The stroke width scales with the image.
func Annotate(src stdimage.Image, m *OverlayMap) *stdimage.RGBA {
	b := src.Bounds()
	dst := stdimage.NewRGBA(stdimage.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	stroke := max(2, min(b.Dx(), b.Dy())/200)
	for _, o := range m.Overlays() {
		r := o.Pixels(b.Dx(), b.Dy())
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, stroke, parseHex(o.Color))
	}
	return dst
}

// AnnotatePayload decodes the payload, draws the overlays and re-encodes the
// result as JPEG.
func AnnotatePayload(p *image.Payload, m *OverlayMap, quality int) ([]byte, error) {
	src, _, err := stdimage.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if quality < 1 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Annotate(src, m), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

func strokeRect(dst *stdimage.RGBA, r stdimage.Rectangle, width int, c color.Color) {
	fill := stdimage.NewUniform(c)
	edges := []stdimage.Rectangle{
		stdimage.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		stdimage.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		stdimage.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		stdimage.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), fill, stdimage.Point{}, draw.Over)
	}
}

// parseHex reads a #rrggbb colour. Malformed input yields opaque red.
func parseHex(s string) color.RGBA {
	fallback := color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	if len(s) != 7 || s[0] != '#' {
		return fallback
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
