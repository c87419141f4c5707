package tagger

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// cleanQuality is used when the fallback path re-encodes a damaged file.
const cleanQuality = 95

// fallbackKeywordLimit bounds the minimal write attempted against a cleaned
// copy.
const fallbackKeywordLimit = 10

// MetadataWriter writes a TagRecord into an image file's embedded metadata.
type MetadataWriter interface {
	Write(path string, rec *TagRecord) bool
}

// MetadataCodec writes XMP (all formats) and legacy IPTC (JPEG) metadata
// through exiftool, with a clean-rewrite fallback for containers exiftool
// cannot open and text-chunk embedding for PNG.
//
// The stay-open exiftool handle is not safe for concurrent use, so every
// operation takes the codec lock.
type MetadataCodec struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewMetadataCodec starts the exiftool subprocess.
func NewMetadataCodec() (*MetadataCodec, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &MetadataCodec{et: et}, nil
}

// Close shuts the exiftool subprocess down.
func (c *MetadataCodec) Close() error {
	return c.et.Close()
}

// writeStrategy is one attempt in the fallback chain. Strategies are tried
// in order and the chain short-circuits on the first success.
type writeStrategy struct {
	name string
	run  func() error
}

// strategies lays out the fallback chain for a container. PNG falls back to
// text chunks exclusively. The clean-rewrite fallback produces JPEG bytes, so
// it only applies to JPEG sources; rewriting a .webp or .tiff in place would
// leave JPEG bytes under the old extension. Other containers get the primary
// strategy alone.
func (c *MetadataCodec) strategies(path string, rec *TagRecord) []writeStrategy {
	out := []writeStrategy{
		{"exiftool-xmp", func() error { return c.writeXMP(path, rec, false) }},
	}
	switch {
	case isPNG(path):
		out = append(out, writeStrategy{"png-text", func() error {
			return setPNGText(path, pngTextChunks(rec))
		}})
	case isJPEG(path):
		out = append(out, writeStrategy{"clean-rewrite", func() error {
			return c.rewriteClean(path, rec)
		}})
	}
	return out
}

// Write stores the record into the file and reports whether any strategy
// succeeded. Writing the same record twice leaves the container in the same
// semantic state.
func (c *MetadataCodec) Write(path string, rec *TagRecord) bool {
	written := ""
	for _, s := range c.strategies(path, rec) {
		if err := s.run(); err != nil {
			klog.Warningf("metadata strategy %q failed for %s: %v", s.name, path, err)
			continue
		}
		written = s.name
		break
	}
	if written == "" {
		return false
	}

	if written == "exiftool-xmp" {
		// Best-effort extras on top of a committed XMP write; failures here
		// never roll it back.
		if isJPEG(path) {
			if err := c.writeIPTC(path, rec); err != nil {
				klog.Warningf("legacy IPTC write failed for %s: %v", path, err)
			}
		}
		if isPNG(path) {
			if err := setPNGText(path, pngTextChunks(rec)); err != nil {
				klog.Warningf("png text chunks failed for %s: %v", path, err)
			}
		}
	}
	return true
}

// writeXMP sets the XMP-namespace fields. minimal limits the write to
// title, description and the first few keywords, as used against cleaned
// copies.
func (c *MetadataCodec) writeXMP(path string, rec *TagRecord, minimal bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Probing the container first surfaces corrupt EXIF blocks as an error
	// here instead of a silent partial write.
	fms := c.et.ExtractMetadata(path)
	if len(fms) == 0 {
		return fmt.Errorf("no metadata handle for %s", path)
	}
	if fms[0].Err != nil {
		return fmt.Errorf("open container: %w", fms[0].Err)
	}

	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	fm.SetString("XMP-dc:Title", rec.Title)

	if minimal {
		fm.SetString("XMP-dc:Description", rec.Description)
		ks := rec.Keywords
		if len(ks) > fallbackKeywordLimit {
			ks = ks[:fallbackKeywordLimit]
		}
		fm.SetStrings("XMP-dc:Subject", ks)
	} else {
		fm.SetString("XMP-photoshop:Headline", rec.Title)
		fm.SetString("XMP-dc:Description", combinedDescription(rec))
		fm.SetStrings("XMP-dc:Subject", rec.Keywords)
		fm.SetString("XMP-photoshop:Category", rec.MainGenre)
		fm.SetStrings("XMP-photoshop:SupplementalCategories", []string{rec.SecondaryGenre})
		if rec.Story != "" {
			fm.SetString("XMP-photoshop:Instructions", rec.Story)
		}
	}

	batch := []exiftool.FileMetadata{fm}
	c.et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("write xmp: %w", batch[0].Err)
	}
	return nil
}

// writeIPTC sets the legacy JPEG-oriented IPTC fields.
func (c *MetadataCodec) writeIPTC(path string, rec *TagRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	fm.SetString("IPTC:CodedCharacterSet", "UTF8")
	fm.SetString("IPTC:ObjectName", rec.Title)
	fm.SetString("IPTC:Headline", rec.Title)
	fm.SetString("IPTC:Caption-Abstract", rec.Description)
	fm.SetStrings("IPTC:Keywords", rec.Keywords)
	fm.SetString("IPTC:Category", rec.MainGenre)
	fm.SetStrings("IPTC:SupplementalCategories", []string{rec.SecondaryGenre})

	batch := []exiftool.FileMetadata{fm}
	c.et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("write iptc: %w", batch[0].Err)
	}
	return nil
}

// rewriteClean handles JPEG containers the primary path cannot open, typically a
// corrupt or oversized EXIF block: the image is re-decoded with the stdlib
// decoders (which skip EXIF entirely), re-encoded to a clean JPEG, given a
// minimal XMP write and atomically swapped over the original. A readable
// file with no metadata beats leaving a corrupt file untouched, so the swap
// happens even when the minimal write fails; that failure is still reported.
func (c *MetadataCodec) rewriteClean(path string, rec *TagRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("tolerant decode: %w", err)
	}

	tmp := path + ".clean"
	if err := imgio.Save(tmp, img, imgio.JPEGEncoder(cleanQuality)); err != nil {
		return fmt.Errorf("clean re-encode: %w", err)
	}

	werr := c.writeXMP(tmp, rec, true)
	if rerr := os.Rename(tmp, path); rerr != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace original: %w", rerr)
	}
	if werr != nil {
		return fmt.Errorf("minimal write on clean copy: %w", werr)
	}
	return nil
}

// combinedDescription joins description and poetic comment, blank-line
// separated.
func combinedDescription(rec *TagRecord) string {
	if rec.Comment == "" {
		return rec.Description
	}
	return rec.Description + "\n\n" + rec.Comment
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

func isPNG(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".png"
}
