package task

import (
	"fmt"
	"strings"

	"carousel/internal/services"
)

// ValidateFile checks a single payload entry: a display name must be present
// and the size must not be negative.
func ValidateFile(file FilePayload) error {
	if strings.TrimSpace(file.Name) == "" {
		return services.Wrap(services.ErrValidation, "task", "validate", "file name must not be empty", nil)
	}
	if file.SizeBytes < 0 {
		return services.Wrap(services.ErrValidation, "task", "validate",
			fmt.Sprintf("file %q has negative size %d", file.Name, file.SizeBytes), nil)
	}
	return nil
}

// ValidateOptions checks the conversion options shared by single and batch
// submissions.
func ValidateOptions(opts Options) error {
	if !opts.Format.Valid() {
		return services.Wrap(services.ErrValidation, "task", "validate",
			fmt.Sprintf("unsupported target format %q", string(opts.Format)), nil)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return services.Wrap(services.ErrValidation, "task", "validate",
			fmt.Sprintf("quality %d out of range [1,100]", opts.Quality), nil)
	}
	return nil
}

// ValidateBatch checks batch shape limits before per-file validation.
func ValidateBatch(files []FilePayload, maxFiles int) error {
	if len(files) == 0 {
		return services.Wrap(services.ErrValidation, "task", "validate", "batch must contain at least one file", nil)
	}
	if maxFiles > 0 && len(files) > maxFiles {
		return services.Wrap(services.ErrValidation, "task", "validate",
			fmt.Sprintf("batch of %d files exceeds limit of %d", len(files), maxFiles), nil)
	}
	return nil
}
