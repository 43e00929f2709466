// Package bridge moves artifacts from one stage's output directory into the next
// stage's input directory.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"giftforge/internal/apperrors"
	"giftforge/internal/artifact"
	"giftforge/internal/config"
)

// Config names the two directories the bridge connects.
type Config struct {
	OutputDir       string
	InputDir        string
	FallbackSubdirs []string
}

// LoadConfigFromEnv loads bridge configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		OutputDir:       config.GetEnv("COMFY_OUTPUT_DIR", "./comfy/output"),
		InputDir:        config.GetEnv("COMFY_INPUT_DIR", "./comfy/input"),
		FallbackSubdirs: config.GetListEnv("OUTPUT_FALLBACK_SUBDIRS", []string{"mesh"}),
	}
}

// Bridge copies files between engine directories.
type Bridge struct {
	output    string
	input     string
	fallbacks []string
}

// New creates a bridge.
func New(cfg Config) *Bridge {
	return &Bridge{output: cfg.OutputDir, input: cfg.InputDir, fallbacks: cfg.FallbackSubdirs}
}

// Bridge copies filename from the output root into the input root under the same name.
// The next stage's template refers to the file by name, so the name is kept exactly.
// A vanished source is ErrSourceMissing and is not retried.
func (b *Bridge) Bridge(filename string) error {
	if err := artifact.ValidateName("filename", filename); err != nil {
		return err
	}

	src, err := b.source(filename)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.input, 0o755); err != nil {
		return apperrors.Internal("bridge.copy", err)
	}
	dst := filepath.Join(b.input, filename)
	if err := copyFile(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.SourceMissing("bridge.copy", filename)
		}
		return apperrors.Internal("bridge.copy", err)
	}

	slog.Info("Bridged artifact", "file", filename, "from", src, "to", dst)
	return nil
}

// maxSubfolderDepth bounds the search for outputs the engine wrote into a subfolder.
const maxSubfolderDepth = 4

// source finds filename in the output root, a fallback subfolder, or any engine
// subfolder. The first match in lexical order wins.
func (b *Bridge) source(filename string) (string, error) {
	candidates := []string{filepath.Join(b.output, filename)}
	for _, dir := range b.fallbacks {
		candidates = append(candidates, filepath.Join(b.output, dir, filename))
	}
	for _, path := range candidates {
		if isRegular(path) {
			return path, nil
		}
	}
	if path, ok := b.search(filename); ok {
		return path, nil
	}
	return "", apperrors.SourceMissing("bridge.copy", filename)
}

func (b *Bridge) search(filename string) (string, bool) {
	var found string
	root := filepath.Clean(b.output)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			if rel != "." && strings.Count(rel, string(filepath.Separator)) >= maxSubfolderDepth-1 {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() == filename && d.Type().IsRegular() {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// copyFile writes src to a temporary file beside dst and renames it into place, so a
// reader of dst never sees a partial file.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod: %w", err)
	}
	return os.Rename(tmp.Name(), dst)
}
