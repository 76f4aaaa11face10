package metadata

import (
	"context"
	"image"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"dedup-go/internal/dedup"

	_ "image/gif"  // register decoders for DecodeConfig
	_ "image/jpeg"
	_ "image/png"
)

// ExifExtractor reads capture metadata from image files: EXIF capture
// time and camera model where present, pixel dimensions from the image
// header, and a small preview thumbnail. Any partial failure degrades
// to less metadata, never to an ingest failure.
type ExifExtractor struct {
	thumbMaxDim int
	logger      dedup.Logger
}

var _ dedup.MetadataExtractor = (*ExifExtractor)(nil)

// NewExifExtractor creates an extractor producing thumbnails bounded by
// thumbMaxDim pixels on the long edge. thumbMaxDim <= 0 disables
// thumbnails.
func NewExifExtractor(thumbMaxDim int, logger dedup.Logger) *ExifExtractor {
	return &ExifExtractor{thumbMaxDim: thumbMaxDim, logger: logger}
}

// Extract pulls whatever metadata the file yields.
func (e *ExifExtractor) Extract(ctx context.Context, path string) (*dedup.CaptureMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := &dedup.CaptureMetadata{}

	if takenAt, model, ok := e.readExif(path); ok {
		meta.TakenAt = takenAt
		meta.CameraModel = model
	}

	if w, h, ok := e.readDimensions(path); ok {
		meta.Width = w
		meta.Height = h
	}

	if e.thumbMaxDim > 0 {
		if thumb, err := e.makeThumbnail(path); err != nil {
			e.logger.Debug("thumbnail generation failed", "path", path, "error", err)
		} else {
			meta.Thumbnail = thumb
		}
	}

	return meta, nil
}

// readExif decodes EXIF tags. Non-EXIF formats and files without tags
// simply report not-ok.
func (e *ExifExtractor) readExif(path string) (*time.Time, string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, "", false
	}

	var takenAt *time.Time
	if t, err := x.DateTime(); err == nil {
		utc := t.UTC()
		takenAt = &utc
	}

	var model string
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			model = s
		}
	}

	if takenAt == nil && model == "" {
		return nil, "", false
	}
	return takenAt, model, true
}

// readDimensions decodes only the image header.
func (e *ExifExtractor) readDimensions(path string) (int, int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func (e *ExifExtractor) makeThumbnail(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Thumbnail(f, e.thumbMaxDim)
}
