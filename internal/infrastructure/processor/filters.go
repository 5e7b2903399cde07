package processor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// applyFilter returns applied=false for kinds it does not know.
func applyFilter(img image.Image, f domain.Filter) (image.Image, bool, error) {
	switch f.Kind {
	case domain.FilterRotate:
		deg, err := f.Param.Int()
		if err != nil {
			return nil, false, err
		}
		return rotate(img, deg), true, nil
	case domain.FilterGrayscale:
		return imaging.Grayscale(img), true, nil
	case domain.FilterBlur:
		radius, err := f.Param.Float()
		if err != nil {
			return nil, false, err
		}
		out, err := blur(img, radius)
		return out, true, err
	case domain.FilterBrightness:
		factor, err := f.Param.Float()
		if err != nil {
			return nil, false, err
		}
		out, err := brightness(img, factor)
		return out, true, err
	case domain.FilterContrast:
		factor, err := f.Param.Float()
		if err != nil {
			return nil, false, err
		}
		out, err := contrast(img, factor)
		return out, true, err
	default:
		return img, false, nil
	}
}

// rotate turns the image counter-clockwise about its center. The output
// keeps the source size: corners turned out of frame are cut off and the
// uncovered area is black.
func rotate(img image.Image, deg int) image.Image {
	if deg%360 == 0 {
		return img
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	turned := imaging.Rotate(img, float64(deg), color.Black)
	return imaging.PasteCenter(imaging.New(w, h, color.Black), imaging.CropCenter(turned, w, h))
}

func blur(img image.Image, radius float64) (image.Image, error) {
	if radius < 0 {
		return nil, fmt.Errorf("%w: blur radius %v is negative", domain.ErrInvalidFilterParam, radius)
	}
	if radius == 0 {
		return img, nil
	}
	return imaging.Blur(img, radius), nil
}

func brightness(img image.Image, factor float64) (image.Image, error) {
	if factor < 0 {
		return nil, fmt.Errorf("%w: brightness factor %v is negative", domain.ErrInvalidFilterParam, factor)
	}
	if factor == 1 {
		return img, nil
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp(float64(c.R) * factor),
			G: clamp(float64(c.G) * factor),
			B: clamp(float64(c.B) * factor),
			A: c.A,
		}
	}), nil
}

// contrast scales each channel's distance from the mean luminance.
func contrast(img image.Image, factor float64) (image.Image, error) {
	if factor < 0 {
		return nil, fmt.Errorf("%w: contrast factor %v is negative", domain.ErrInvalidFilterParam, factor)
	}
	if factor == 1 {
		return img, nil
	}
	mean := meanLuminance(imaging.Clone(img))
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp(mean + (float64(c.R)-mean)*factor),
			G: clamp(mean + (float64(c.G)-mean)*factor),
			B: clamp(mean + (float64(c.B)-mean)*factor),
			A: c.A,
		}
	}), nil
}

func meanLuminance(img *image.NRGBA) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+3 < len(img.Pix); i += 4 {
		sum += 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
	}
	return math.Round(sum / float64(n))
}

func clamp(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
