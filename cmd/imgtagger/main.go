// imgtagger analyzes images with Google Vision and Gemini and writes the
// generated title, description and keywords into each file's embedded
// metadata, optionally renaming the file from the generated title.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/hylst/imgtagger/pkg/tagger"
)

// .env is optional and must be loaded before the flag defaults below read the
// environment; missing files are fine.
var _ = godotenv.Load()

var (
	credentials = flag.String("credentials", "", "path to a GCP service-account JSON file (required)")
	output      = flag.String("output", "", "output JSON path (default results_<timestamp>.json)")
	project     = flag.String("project", "", "GCP project ID (auto-detected from credentials if omitted)")
	lang        = flag.String("lang", envStr("IMG_TAGGER_LANGUAGE", "fr"), "output language for generated text (fr, en)")
	model       = flag.String("model", "gemini-1.5-pro-latest", "Gemini model to use")
	workers     = flag.Int("workers", envInt("IMG_TAGGER_WORKERS", 4), "worker pool size (1 = sequential)")
	retry       = flag.Int("retry", envInt("IMG_TAGGER_RETRY_COUNT", 3), "retry limit for remote API calls")
	timeout     = flag.Int("timeout", envInt("IMG_TAGGER_TIMEOUT", 60), "per-call timeout in seconds")
	noRename    = flag.Bool("no-rename", false, "do not rename files from generated titles")
	backup      = flag.Bool("backup", false, "copy originals before renaming")
	recursive   = flag.Bool("recursive", false, "recurse into subdirectories")
	watchMode   = flag.Bool("watch", false, "keep running and process images as they appear")
)

func init() {
	flag.BoolVar(recursive, "r", false, "recurse into subdirectories (shorthand)")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx)
	stop()
	klog.Flush()
	os.Exit(code)
}

func run(ctx context.Context) int {
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <image-or-directory>\n", os.Args[0])
		flag.PrintDefaults()
		return 1
	}
	input := flag.Arg(0)

	cfg, err := buildConfig()
	if err != nil {
		klog.Errorf("invalid configuration: %v", err)
		return 1
	}

	if _, err := os.Stat(input); err != nil {
		klog.Errorf("input path not found: %s", input)
		return 1
	}

	sa, err := tagger.LoadServiceAccount(cfg.CredentialsPath)
	if err != nil {
		klog.Errorf("credential validation failed: %v", err)
		return 1
	}
	if cfg.Project == "" {
		cfg.Project = sa.ProjectID
	}
	klog.Infof("using project %s, language %s, model %s", cfg.Project, cfg.Lang, cfg.Model)

	out := *output
	if out == "" {
		out = fmt.Sprintf("results_%s.json", time.Now().Format("20060102_150405"))
	}
	klog.Infof("results will be written to %s", out)

	clients, err := tagger.NewClients(ctx, cfg)
	if err != nil {
		klog.Errorf("API initialization failed: %v", err)
		return 1
	}
	defer clients.Close()

	calls := tagger.NewCallLog()
	vision := tagger.NewVisionAnnotator(clients.Vision, cfg, calls)
	gen := tagger.NewGenerator(clients.GenAI.Models, cfg, calls)

	var writer tagger.MetadataWriter
	codec, err := tagger.NewMetadataCodec()
	if err != nil {
		klog.Warningf("exiftool unavailable, metadata will not be written: %v", err)
	} else {
		defer codec.Close()
		writer = codec
	}

	pipe := tagger.NewPipeline(cfg, vision, gen, writer)
	runner := tagger.NewRunner(cfg, pipe, calls)

	if *watchMode {
		if err := runner.Watch(ctx, input, out); err != nil {
			if errors.Is(err, context.Canceled) {
				klog.Infof("interrupted")
				return 130
			}
			klog.Errorf("watch failed: %v", err)
			return 1
		}
		return 0
	}

	summary, err := runner.Run(ctx, input, out)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			klog.Warningf("interrupted, no output written")
			return 130
		case errors.Is(err, tagger.ErrNoImages):
			klog.Warningf("no images found in %s", input)
			return 0
		default:
			klog.Errorf("run failed: %v", err)
			return 1
		}
	}

	text, err := tagger.RenderSummary(summary)
	if err != nil {
		klog.Errorf("summary: %v", err)
		return 1
	}
	fmt.Print(text)
	return 0
}

func buildConfig() (*tagger.Config, error) {
	cfg := tagger.DefaultConfig()
	cfg.CredentialsPath = *credentials
	cfg.Project = *project
	cfg.Lang = *lang
	cfg.Model = *model
	cfg.Workers = *workers
	cfg.Retries = *retry
	cfg.CallTimeout = time.Duration(*timeout) * time.Second
	cfg.Rename = !*noRename
	cfg.Backup = *backup
	cfg.Recursive = *recursive

	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("--credentials is required")
	}
	if cfg.Lang != tagger.LangFrench && cfg.Lang != tagger.LangEnglish {
		return nil, fmt.Errorf("unsupported language %q (expected fr or en)", cfg.Lang)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("--workers must be at least 1")
	}
	if cfg.Retries < 1 {
		return nil, fmt.Errorf("--retry must be at least 1")
	}
	if cfg.CallTimeout < time.Second {
		return nil, fmt.Errorf("--timeout must be at least 1 second")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
