package tagger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunProcessesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "photo.jpg"), 1920, 1080)
	writeTestImage(t, filepath.Join(dir, "icon.png"), 32, 32)

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.Rename = false
	cfg.Retries = 1
	cfg.RetryDelay = time.Millisecond
	runner := NewRunner(cfg, testPipeline(t, cfg, fullResponse, fullResponse), nil)

	out := filepath.Join(t.TempDir(), "results.json")
	summary, err := runner.Run(context.Background(), dir, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("got %d results", len(summary.Results))
	}

	// One worker preserves enumeration order, which is alphabetical.
	if summary.Results[0].OriginalFile != "icon.png" || summary.Results[1].OriginalFile != "photo.jpg" {
		t.Errorf("order = %q, %q", summary.Results[0].OriginalFile, summary.Results[1].OriginalFile)
	}

	wantDims := map[string][2]int{"icon.png": {32, 32}, "photo.jpg": {1920, 1080}}
	for _, res := range summary.Results {
		if res.Failed() {
			t.Fatalf("%s failed: %s", res.OriginalFile, res.Error)
		}
		want := wantDims[res.OriginalFile]
		if len(res.OriginalDimensions) != 2 || res.OriginalDimensions[0] != want[0] || res.OriginalDimensions[1] != want[1] {
			t.Errorf("%s dimensions = %v, want %v", res.OriginalFile, res.OriginalDimensions, want)
		}
		if res.Title != "Sunset Over Sea" {
			t.Errorf("%s title = %q", res.OriginalFile, res.Title)
		}
	}

	// The output file must hold the same array the summary reports.
	bs, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var decoded []Result
	if err := json.Unmarshal(bs, &decoded); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("output holds %d entries", len(decoded))
	}
}

func TestRunIsolatesFailingJob(t *testing.T) {
	dir := t.TempDir()
	texts := make([]string, 0, 10)
	for i := 0; i < 9; i++ {
		writeTestImage(t, filepath.Join(dir, string(rune('a'+i))+".jpg"), 16, 16)
		texts = append(texts, fullResponse)
	}
	// Passes enumeration by extension but fails validation at process time.
	if err := os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(dir, "broken.jpg")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	texts = append(texts, fullResponse)

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Rename = false
	cfg.Retries = 1
	cfg.RetryDelay = time.Millisecond
	runner := NewRunner(cfg, testPipeline(t, cfg, texts...), nil)

	summary, err := runner.Run(context.Background(), dir, filepath.Join(t.TempDir(), "out.json"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Results) != 10 {
		t.Fatalf("got %d results, want 10", len(summary.Results))
	}

	var failed int
	for _, res := range summary.Results {
		if res.Failed() {
			failed++
			if res.OriginalFile != "broken.jpg" {
				t.Errorf("unexpected failure for %s: %s", res.OriginalFile, res.Error)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want exactly 1", failed)
	}

	st := summary.Stats.Snapshot()
	if st.Succeeded != 9 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	cfg := DefaultConfig()
	runner := NewRunner(cfg, testPipeline(t, cfg), nil)

	out := filepath.Join(t.TempDir(), "out.json")
	if _, err := runner.Run(context.Background(), t.TempDir(), out); err != ErrNoImages {
		t.Fatalf("err = %v, want ErrNoImages", err)
	}
	if pathExists(out) {
		t.Error("no output file expected when nothing was processed")
	}
}

func TestRunCancelledWritesNoOutput(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "x.jpg"), 16, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Retries = 1
	cfg.RetryDelay = time.Millisecond
	runner := NewRunner(cfg, testPipeline(t, cfg, fullResponse), nil)

	out := filepath.Join(t.TempDir(), "out.json")
	if _, err := runner.Run(ctx, dir, out); err == nil {
		t.Fatal("expected a context error")
	}
	if pathExists(out) {
		t.Error("cancelled run must not produce output")
	}
}

func TestWriteResultsCreatesParentDirs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "deep", "nested", "out.json")
	if err := writeResults(out, []*Result{{OriginalFile: "x.jpg"}}); err != nil {
		t.Fatalf("writeResults: %v", err)
	}
	if !pathExists(out) {
		t.Error("output file missing")
	}
	if pathExists(out + ".tmp") {
		t.Error("temp file left behind")
	}
}
