package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Normalizer bounds the longest side of a payload before it is sent for
// inference. Output depends only on the input bytes and the two settings.
type Normalizer struct {
	TargetMaxSide int
	JPEGQuality   int
}

// Normalize returns p unchanged when it already fits TargetMaxSide, otherwise
// a Catmull-Rom downscale re-encoded as JPEG. A zero TargetMaxSide disables
// resizing.
func (n Normalizer) Normalize(p *Payload) (*Payload, error) {
	return n.normalize(p, nil)
}

// normalize reuses src when the caller already decoded the payload.
func (n Normalizer) normalize(p *Payload, src image.Image) (*Payload, error) {
	longest := max(p.Width, p.Height)
	if n.TargetMaxSide <= 0 || longest <= n.TargetMaxSide {
		return p, nil
	}

	if src == nil {
		var err error
		if src, _, err = image.Decode(bytes.NewReader(p.Data)); err != nil {
			return nil, reject(ReasonCorrupt, "The image could not be decoded for resizing.", err)
		}
	}

	w, h := ScaledSize(p.Width, p.Height, n.TargetMaxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// Transparent areas become white rather than JPEG black.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	quality := n.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	return &Payload{
		Data:      buf.Bytes(),
		MediaType: "image/jpeg",
		Format:    "jpeg",
		Width:     w,
		Height:    h,
		Resized:   true,
	}, nil
}

// ScaledSize scales w x h so the longest side equals target, keeping the
// aspect ratio. Neither side drops below one pixel.
func ScaledSize(w, h, target int) (int, int) {
	longest := max(w, h)
	if longest <= target || longest == 0 {
		return w, h
	}
	scale := float64(target) / float64(longest)
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	if w >= h {
		sw = target
	} else {
		sh = target
	}
	return max(sw, 1), max(sh, 1)
}
