package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"carousel/internal/logging"
	"carousel/internal/task"
)

var convertibleExtensions = map[string]struct{}{
	".heic": {},
	".heif": {},
}

// IsConvertible reports whether the file name carries a supported source
// extension.
func IsConvertible(name string) bool {
	_, ok := convertibleExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Submit validates and enqueues a single-file conversion, returning the
// task ID.
func (d *Daemon) Submit(path string, opts task.Options, priority int) (string, error) {
	payload, err := resolvePayload(path)
	if err != nil {
		return "", err
	}
	id, err := d.queue.Submit(payload, opts, priority)
	if err != nil {
		return "", err
	}
	d.logger.Info("file queued",
		logging.String(logging.FieldTaskID, id),
		logging.String("source", payload.Path),
		logging.Int64("size_bytes", payload.SizeBytes),
	)
	return id, nil
}

// SubmitBatch validates and enqueues an ordered list of sources as one
// batch task. Directory arguments expand to the convertible files they
// contain.
func (d *Daemon) SubmitBatch(paths []string, opts task.Options, priority int) (string, error) {
	payloads, err := ResolveSources(paths)
	if err != nil {
		return "", err
	}
	id, err := d.queue.SubmitBatch(payloads, opts, priority)
	if err != nil {
		return "", err
	}
	var totalBytes int64
	for _, payload := range payloads {
		totalBytes += payload.SizeBytes
	}
	d.logger.Info("batch queued",
		logging.String(logging.FieldTaskID, id),
		logging.Int("files", len(payloads)),
		logging.Int64("total_bytes", totalBytes),
	)
	return id, nil
}

func resolvePayload(path string) (task.FilePayload, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return task.FilePayload{}, errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return task.FilePayload{}, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return task.FilePayload{}, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return task.FilePayload{}, fmt.Errorf("source path %q is a directory; use a batch submission", absPath)
	}
	if !IsConvertible(info.Name()) {
		return task.FilePayload{}, fmt.Errorf("unsupported file extension %q", filepath.Ext(info.Name()))
	}
	return task.FilePayload{Name: info.Name(), Path: absPath, SizeBytes: info.Size()}, nil
}

// ResolveSources expands a mixed list of files and directories into
// conversion payloads. Directories contribute their convertible files in
// lexical order; an unsupported file extension fails the whole resolution.
func ResolveSources(paths []string) ([]task.FilePayload, error) {
	payloads := make([]task.FilePayload, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		absPath, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("resolve source path: %w", err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("stat source file: %w", err)
		}
		if info.IsDir() {
			found, err := CollectConvertibles(absPath, 0)
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, found...)
			continue
		}
		if !IsConvertible(info.Name()) {
			return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(info.Name()))
		}
		payloads = append(payloads, task.FilePayload{Name: info.Name(), Path: absPath, SizeBytes: info.Size()})
	}
	if len(payloads) == 0 {
		return nil, errors.New("no convertible files in submission")
	}
	return payloads, nil
}

// CollectConvertibles walks root for supported source files, returning
// payloads in lexical path order. Hidden entries are skipped. A positive
// limit caps the result size.
func CollectConvertibles(root string, limit int) ([]task.FilePayload, error) {
	var payloads []task.FilePayload
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if !IsConvertible(name) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		payloads = append(payloads, task.FilePayload{Name: name, Path: path, SizeBytes: info.Size()})
		if limit > 0 && len(payloads) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return payloads, nil
}
