package metadata

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"dedup-go/internal/dedup"
)

// encodePNG renders a w x h gradient as PNG bytes.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnail_ScalesLongEdge(t *testing.T) {
	data := encodePNG(t, 400, 200)

	thumb, err := Thumbnail(bytes.NewReader(data), 100)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decoding thumbnail: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %s, want jpeg", format)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("thumbnail = %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestThumbnail_SmallImageNotUpscaled(t *testing.T) {
	data := encodePNG(t, 40, 30)

	thumb, err := Thumbnail(bytes.NewReader(data), 100)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decoding thumbnail: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("thumbnail = %dx%d, want original 40x30", cfg.Width, cfg.Height)
	}
}

func TestThumbnail_RejectsGarbage(t *testing.T) {
	if _, err := Thumbnail(bytes.NewReader([]byte("not an image")), 100); err == nil {
		t.Fatal("garbage input should fail to decode")
	}
}

func TestExifExtractor_DimensionsAndThumbnail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	if err := os.WriteFile(path, encodePNG(t, 320, 240), 0644); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	e := NewExifExtractor(64, dedup.NewNopLogger())
	meta, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.Width != 320 || meta.Height != 240 {
		t.Errorf("dimensions = %dx%d, want 320x240", meta.Width, meta.Height)
	}
	if len(meta.Thumbnail) == 0 {
		t.Error("thumbnail missing")
	}
	// No EXIF in a plain PNG.
	if meta.TakenAt != nil || meta.CameraModel != "" {
		t.Errorf("unexpected EXIF metadata: %+v", meta)
	}
}

func TestExifExtractor_NonImageDegradesToEmptyMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	e := NewExifExtractor(64, dedup.NewNopLogger())
	meta, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extraction must degrade, not fail: %v", err)
	}
	if meta.Width != 0 || meta.Height != 0 || meta.Thumbnail != nil || meta.TakenAt != nil {
		t.Errorf("meta = %+v, want empty", meta)
	}
}
