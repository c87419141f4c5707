package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrNoImages is returned when enumeration finds nothing to process; this is
// a distinct outcome, not a run with zero successes.
var ErrNoImages = fmt.Errorf("no images found")

// Runner fans the single-image pipeline out across a bounded worker pool and
// aggregates results.
type Runner struct {
	cfg   *Config
	pipe  *Pipeline
	calls *CallLog
}

// NewRunner builds a batch runner around a pipeline.
func NewRunner(cfg *Config, pipe *Pipeline, calls *CallLog) *Runner {
	return &Runner{cfg: cfg, pipe: pipe, calls: calls}
}

// RunSummary is what a finished (or aborted) run reports.
type RunSummary struct {
	Results []*Result
	Stats   *BatchStats
	Calls   map[string]CallStats
}

// Run enumerates input, processes every job and writes the aggregate JSON
// array to outputPath once all jobs settle. The output file is written
// atomically and never left mid-array: on cancellation before completion no
// output is produced and the context error is returned.
func (r *Runner) Run(ctx context.Context, input, outputPath string) (*RunSummary, error) {
	jobs, err := FindImages(input, r.cfg.Recursive)
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNoImages
	}

	workers := r.cfg.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}
	klog.Infof("processing %d image(s) with %d worker(s)", len(jobs), workers)

	stats := NewBatchStats(len(jobs))
	results := make([]*Result, 0, len(jobs))
	ch := make(chan *Result)

	// Single aggregator consumes completions from all workers, so the result
	// list and counters need no further locking. Order is completion order;
	// with one worker that equals enumeration order.
	var agg sync.WaitGroup
	agg.Add(1)
	go func() {
		defer agg.Done()
		for res := range ch {
			results = append(results, res)
			stats.Record(res)
			klog.V(1).Infof("done %s (%d/%d)", res.OriginalFile, stats.Snapshot().Processed, len(jobs))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ch <- r.pipe.Process(gctx, path)
			return nil
		})
	}

	err = g.Wait()
	close(ch)
	agg.Wait()

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		// Interrupted mid-run: leave no partial output behind.
		return nil, err
	}

	if err := writeResults(outputPath, results); err != nil {
		return nil, err
	}

	return &RunSummary{Results: results, Stats: stats, Calls: r.calls.Stats()}, nil
}

// writeResults serializes the full result array once, atomically.
func writeResults(path string, results []*Result) error {
	bs, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit results: %w", err)
	}

	klog.Infof("wrote %d result(s) to %s", len(results), path)
	return nil
}
