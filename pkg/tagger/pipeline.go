package tagger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// Pipeline runs the per-image stages: validate, normalize, vision annotate,
// generative annotate, rename, write metadata. Retries live inside the
// adapters; no stage is retried at this level.
type Pipeline struct {
	cfg    *Config
	vision *VisionAnnotator
	gen    *Generator
	codec  MetadataWriter
}

// NewPipeline wires the stages together. codec may be nil, in which case
// metadata writing is skipped and reported as not written.
func NewPipeline(cfg *Config, vision *VisionAnnotator, gen *Generator, codec MetadataWriter) *Pipeline {
	return &Pipeline{cfg: cfg, vision: vision, gen: gen, codec: codec}
}

// Process runs one image through the pipeline. It always returns a Result
// and never panics: unexpected failures at any stage are converted into an
// error result so a bad job cannot abort its siblings.
func (p *Pipeline) Process(ctx context.Context, path string) (res *Result) {
	start := time.Now()
	res = &Result{OriginalFile: filepath.Base(path)}

	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("panic while processing %s: %v", path, r)
			*res = Result{
				OriginalFile: filepath.Base(path),
				Error:        fmt.Sprintf("internal error: %v", r),
			}
		}
		res.ProcessingTime = time.Since(start).Seconds()
	}()

	job, err := p.validate(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	img := Normalize(job.Path)
	if len(img.Bytes) == 0 {
		res.Error = fmt.Sprintf("unreadable image: %s", path)
		return res
	}

	vr := p.vision.Annotate(ctx, img.Bytes)
	rec := p.gen.Generate(ctx, img, vr)

	newPath := job.Path
	if p.cfg.Rename {
		newPath = p.rename(job.Path, rec.Title)
	}

	written := false
	if p.codec != nil {
		written = p.codec.Write(newPath, rec)
	}
	if !written {
		klog.Warningf("metadata not written for %s", newPath)
	}

	res.NewFile = filepath.Base(newPath)
	res.Path = newPath
	if img.Width > 0 || img.Height > 0 {
		res.OriginalDimensions = []int{img.Width, img.Height}
	}
	res.TagRecord = *rec
	res.MetadataWritten = &written
	return res
}

func (p *Pipeline) validate(path string) (*ImageJob, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("not a file: %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExt(path) {
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
	if p.cfg.MaxFileSize > 0 && st.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (limit %d)", st.Size(), p.cfg.MaxFileSize)
	}

	return &ImageJob{
		Path:     path,
		Ext:      ext,
		MimeType: mimeForExt(path),
		Size:     st.Size(),
	}, nil
}

// rename moves the file to a slug of the generated title, appending numeric
// suffixes until there is no collision. Rename is best-effort: a source that
// vanished between stages keeps its original path and the job continues.
func (p *Pipeline) rename(path, title string) string {
	slug := Slug(title)
	if slug == "" {
		slug = fmt.Sprintf("image_%d", time.Now().Unix())
	}

	if p.cfg.Backup {
		bak := path + ".bak"
		if err := copy.Copy(path, bak); err != nil {
			klog.Warningf("backup of %s failed: %v", path, err)
		}
	}

	dir := filepath.Dir(path)
	ext := strings.ToLower(filepath.Ext(path))
	dst := filepath.Join(dir, slug+ext)
	for n := 1; pathExists(dst) && dst != path; n++ {
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", slug, n, ext))
	}
	if dst == path {
		return path
	}

	if err := os.Rename(path, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			klog.Warningf("source vanished before rename, keeping %s", path)
		} else {
			klog.Errorf("rename %s -> %s failed: %v", path, dst, err)
		}
		return path
	}

	klog.V(1).Infof("renamed %s -> %s", path, dst)
	return dst
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
