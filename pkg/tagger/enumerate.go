package tagger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// supportedExts are the image containers the pipeline accepts. Matching is
// case-insensitive on the extension.
var supportedExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// SupportedExt reports whether path has a supported image extension.
func SupportedExt(path string) bool {
	_, ok := supportedExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

func mimeForExt(path string) string {
	if m, ok := supportedExts[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "application/octet-stream"
}

// FindImages enumerates the image files to process. A file argument yields a
// single-element job set; a directory is scanned at the top level only, or
// recursively when recursive is set. Dotfiles and dot-directories are skipped.
func FindImages(root string, recursive bool) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if !st.IsDir() {
		if !SupportedExt(root) {
			return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(root))
		}
		return []string{root}, nil
	}

	if recursive {
		return walkImages(root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	found := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if SupportedExt(e.Name()) {
			found = append(found, filepath.Join(root, e.Name()))
		}
	}
	return found, nil
}

func walkImages(root string) ([]string, error) {
	found := []string{}

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			if strings.HasPrefix(filepath.Base(path), ".") {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}

			if !de.IsDir() && SupportedExt(path) {
				klog.V(1).Infof("found %s", path)
				found = append(found, path)
			}
			return nil
		},
	})

	return found, err
}
