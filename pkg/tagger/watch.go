package tagger

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// watchSettle gives a newly created file time to finish being written before
// the pipeline reads it.
const watchSettle = 500 * time.Millisecond

// Watch processes images as they appear under dir, rewriting outputPath
// after every completion. It returns when the context is canceled.
func (r *Runner) Watch(ctx context.Context, dir, outputPath string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	klog.Infof("watching %s ...", dir)

	results := []*Result{}
	seen := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := event.Name
			if !SupportedExt(path) || strings.HasPrefix(filepath.Base(path), ".") {
				continue
			}
			if seen[path] {
				continue
			}
			seen[path] = true

			time.Sleep(watchSettle)
			res := r.pipe.Process(ctx, path)
			results = append(results, res)
			// the rename stage emits its own Create event
			seen[res.Path] = true
			if res.Failed() {
				klog.Errorf("%s: %s", res.OriginalFile, res.Error)
			} else {
				klog.Infof("%s -> %s (%q)", res.OriginalFile, res.NewFile, res.Title)
			}

			if err := writeResults(outputPath, results); err != nil {
				klog.Errorf("write results: %v", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		}
	}
}
