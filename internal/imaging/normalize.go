// Package imaging turns uploaded artwork into the stored raster format:
// a JPEG no larger than a configured bounding box.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"orderbot/internal/domain"
)

const (
	DefaultQuality      = 85
	DefaultMaxDimension = 2048
)

// Normalizer implements domain.ImageNormalizer.
type Normalizer struct {
	quality int
	maxDim  int
}

func NewNormalizer(quality, maxDimension int) *Normalizer {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Normalizer{quality: quality, maxDim: maxDimension}
}

// Normalize decodes JPEG, PNG or GIF, flattens transparency onto white,
// shrinks the picture to fit the bounding box and re-encodes it as JPEG.
func (n *Normalizer) Normalize(raw []byte) (domain.NormalizedImage, error) {
	const op = "imaging.normalize"
	if len(raw) == 0 {
		return domain.NormalizedImage{}, domain.Errorf(domain.KindValidation, op, "empty image")
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.NormalizedImage{}, domain.Wrap(domain.KindValidation, op, err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), n.maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		shrink(dst, src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return domain.NormalizedImage{}, domain.Errorf(domain.KindPostCommit, op, "encode %s as jpeg: %w", format, err)
	}
	return domain.NormalizedImage{Data: buf.Bytes(), Mime: "image/jpeg", Width: w, Height: h}, nil
}

// fit scales w x h down to fit limit x limit, keeping the aspect ratio.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, atLeastOne(h * limit / w)
	}
	return atLeastOne(w * limit / h), limit
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// shrink box-averages src into dst, compositing over dst's background.
func shrink(dst *image.RGBA, src image.Image) {
	sb := src.Bounds()
	db := dst.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	dw, dh := db.Dx(), db.Dy()

	for dy := 0; dy < dh; dy++ {
		y0 := sb.Min.Y + dy*sh/dh
		y1 := sb.Min.Y + (dy+1)*sh/dh
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for dx := 0; dx < dw; dx++ {
			x0 := sb.Min.X + dx*sw/dw
			x1 := sb.Min.X + (dx+1)*sw/dw
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var r, g, bl, a, count uint64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					cr, cg, cb, ca := src.At(x, y).RGBA()
					r += uint64(cr)
					g += uint64(cg)
					bl += uint64(cb)
					a += uint64(ca)
					count++
				}
			}
			// premultiplied average over white
			ar, ag, ab, aa := r/count, g/count, bl/count, a/count
			bg := 0xffff - aa
			dst.Set(db.Min.X+dx, db.Min.Y+dy, color.RGBA64{
				R: uint16(ar + bg),
				G: uint16(ag + bg),
				B: uint16(ab + bg),
				A: 0xffff,
			})
		}
	}
}
