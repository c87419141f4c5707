package tagger

import (
	"bytes"
	"image"
	"image/color"
	"os"

	// Decoders for every supported container. bild's imgio.Open goes through
	// image.Decode, so registration here covers it too.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"k8s.io/klog/v2"
)

const (
	// maxUploadEdge bounds the longer edge of images sent to the remote
	// services.
	maxUploadEdge = 1024
	uploadQuality = 85
)

// Normalize decodes an image file and produces a bounded JPEG buffer for
// upload: the longer edge is downscaled to maxUploadEdge (never upscaled)
// and paletted or alpha-carrying images are flattened to plain RGB first.
// The alpha channel is dropped, not composited onto a background.
//
// When decoding or re-encoding fails the original file bytes are returned
// verbatim with (0,0) dimensions: the remote services may still accept the
// source container, so a bad local decode degrades rather than fails.
func Normalize(path string) *NormalizedImage {
	img, err := imgio.Open(path)
	if err != nil {
		klog.Warningf("decode %s failed, uploading raw bytes: %v", path, err)
		return rawFallback(path)
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	img = flatten(img)

	rw, rh := boundedSize(w, h, maxUploadEdge)
	if rw != w || rh != h {
		klog.V(1).Infof("resizing %s: %dx%d -> %dx%d", path, w, h, rw, rh)
		img = transform.Resize(img, rw, rh, transform.Lanczos)
	}

	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(uploadQuality)(&buf, img); err != nil {
		klog.Warningf("re-encode %s failed, uploading raw bytes: %v", path, err)
		return rawFallback(path)
	}

	return &NormalizedImage{
		Bytes:    buf.Bytes(),
		MimeType: "image/jpeg",
		Width:    w,
		Height:   h,
	}
}

func rawFallback(path string) *NormalizedImage {
	bs, err := os.ReadFile(path)
	if err != nil {
		bs = nil
	}
	return &NormalizedImage{Bytes: bs, MimeType: mimeForExt(path)}
}

// boundedSize scales (w, h) so the longer edge equals max, preserving the
// aspect ratio. Images already within bounds are left alone.
func boundedSize(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, int(float64(h) * float64(max) / float64(w))
	}
	return int(float64(w) * float64(max) / float64(h)), max
}

// flatten copies paletted and alpha-carrying images into an opaque RGBA
// buffer so the JPEG encoder sees a color model it handles predictably. The
// raw color channels are kept and the alpha channel discarded; a draw.Draw
// here would premultiply semi-transparent pixels toward black instead.
func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.Paletted, *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64:
	default:
		return img
	}
	b := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			flat.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return flat
}
