package tagger

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthonynsimon/bild/imgio"
)

func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var enc imgio.Encoder
	switch filepath.Ext(path) {
	case ".png":
		enc = imgio.PNGEncoder()
	default:
		enc = imgio.JPEGEncoder(90)
	}
	if err := imgio.Save(path, img, enc); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func decodeDims(t *testing.T, bs []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(bs))
	if err != nil {
		t.Fatalf("normalized output is not decodable: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("normalized output format = %s, want jpeg", format)
	}
	return cfg.Width, cfg.Height
}

func TestNormalizeDownscalesLongEdge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	writeTestImage(t, path, 1920, 1080)

	n := Normalize(path)
	if n.Width != 1920 || n.Height != 1080 {
		t.Errorf("original dimensions = %dx%d, want 1920x1080", n.Width, n.Height)
	}

	w, h := decodeDims(t, n.Bytes)
	if w != maxUploadEdge {
		t.Errorf("long edge = %d, want %d", w, maxUploadEdge)
	}
	if h != 576 { // 1080 * 1024/1920
		t.Errorf("short edge = %d, want 576", h)
	}
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icon.png")
	writeTestImage(t, path, 32, 32)

	n := Normalize(path)
	if n.Width != 32 || n.Height != 32 {
		t.Errorf("original dimensions = %dx%d, want 32x32", n.Width, n.Height)
	}

	w, h := decodeDims(t, n.Bytes)
	if w != 32 || h != 32 {
		t.Errorf("normalized dimensions = %dx%d, want unchanged", w, h)
	}
	if n.MimeType != "image/jpeg" {
		t.Errorf("mime = %s", n.MimeType)
	}
}

func TestNormalizePortraitBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tall.jpg")
	writeTestImage(t, path, 600, 2048)

	n := Normalize(path)
	_, h := decodeDims(t, n.Bytes)
	if h != maxUploadEdge {
		t.Errorf("long edge = %d, want %d", h, maxUploadEdge)
	}
}

func TestNormalizeUndecodableFallsBackToRawBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	raw := []byte("definitely not a jpeg")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	n := Normalize(path)
	if !bytes.Equal(n.Bytes, raw) {
		t.Errorf("expected raw bytes verbatim")
	}
	if n.Width != 0 || n.Height != 0 {
		t.Errorf("dimensions must be unknown, got %dx%d", n.Width, n.Height)
	}
}

func TestNormalizeDiscardsAlphaWithoutCompositing(t *testing.T) {
	// A semi-transparent red pixel must stay red in the upload JPEG: the
	// alpha channel is discarded, not multiplied into the color channels.
	dir := t.TempDir()
	path := filepath.Join(dir, "ghost.png")

	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 0, B: 0, A: 128})
		}
	}
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		t.Fatal(err)
	}

	n := Normalize(path)
	decoded, _, err := image.Decode(bytes.NewReader(n.Bytes))
	if err != nil {
		t.Fatalf("normalized output is not decodable: %v", err)
	}

	r, g, b, _ := decoded.At(4, 4).RGBA()
	if r>>8 < 200 {
		t.Errorf("red channel = %d, want near 255 (alpha composited instead of discarded?)", r>>8)
	}
	if g>>8 > 55 || b>>8 > 55 {
		t.Errorf("green/blue channels = %d/%d, want near 0", g>>8, b>>8)
	}
}

func TestFlattenKeepsRawChannels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 200, B: 30, A: 0})
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, G: 0, B: 0, A: 128})

	flat, ok := flatten(img).(*image.RGBA)
	if !ok {
		t.Fatal("flatten should produce an *image.RGBA")
	}
	if c := flat.RGBAAt(1, 1); c.R != 255 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("semi-transparent pixel = %+v, want opaque raw red", c)
	}
	if c := flat.RGBAAt(0, 0); c.A != 255 {
		t.Errorf("fully transparent pixel not made opaque: %+v", c)
	}
}

func TestBoundedSize(t *testing.T) {
	cases := []struct{ w, h, bw, bh int }{
		{1920, 1080, 1024, 576},
		{1080, 1920, 576, 1024},
		{1024, 1024, 1024, 1024},
		{100, 50, 100, 50},
	}
	for _, c := range cases {
		w, h := boundedSize(c.w, c.h, maxUploadEdge)
		if w != c.bw || h != c.bh {
			t.Errorf("boundedSize(%d, %d) = %dx%d, want %dx%d", c.w, c.h, w, h, c.bw, c.bh)
		}
	}
}
