package processor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

// ImageProcessor is the filter engine. It holds no state besides encoder settings.
type ImageProcessor struct {
	jpegQuality int
}

func NewImageProcessor(cfg *config.ProcessingConfig) *ImageProcessor {
	quality := cfg.JPEGQuality
	if quality < 1 || quality > 100 {
		zlog.Logger.Warn().
			Int("jpeg_quality", quality).
			Msg("Invalid jpeg quality, using default")
		quality = 90
	}
	zlog.Logger.Info().
		Int("jpeg_quality", quality).
		Msg("ImageProcessor initialized")
	return &ImageProcessor{jpegQuality: quality}
}

// Apply decodes data, runs filters in order and re-encodes in the source format.
// Sources other than JPEG or PNG are encoded as PNG and the result carries an anomaly.
func (p *ImageProcessor) Apply(data []byte, filters []domain.Filter) (*domain.FilterResult, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err))
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, domain.Permanent(fmt.Errorf("%w: empty image", domain.ErrDecodeFailed))
	}

	for i, f := range filters {
		out, applied, err := applyFilter(img, f)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("filter %d (%s): %w", i, f.Kind, err))
		}
		if !applied {
			zlog.Logger.Warn().
				Int("index", i).
				Str("kind", string(f.Kind)).
				Msg("unknown filter kind skipped")
			continue
		}
		img = out
	}

	result := &domain.FilterResult{Format: format}
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.jpegQuality))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		result.Format = "png"
		result.Anomaly = fmt.Sprintf("unrecognized source format %q, encoded as png", format)
		zlog.Logger.Warn().
			Str("source_format", format).
			Msg("falling back to png encoding")
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	result.Data = buf.Bytes()
	return result, nil
}
