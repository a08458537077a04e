package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckEngine reports whether the configured conversion engine can be
// executed. Commands containing a path separator are checked in place,
// bare names resolve through PATH.
func CheckEngine(command string) Status {
	result := Status{
		Name:        "Conversion engine",
		Description: "Decodes HEIC input and encodes JPEG, PNG, or WebP output",
	}

	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		result.Detail = "engine.binary is not configured"
		return result
	}
	result.Command = trimmed

	if strings.ContainsRune(trimmed, filepath.Separator) {
		info, err := os.Stat(trimmed)
		if err != nil {
			result.Detail = fmt.Sprintf("binary %q not found", trimmed)
			return result
		}
		if !isExecutable(info) {
			result.Detail = fmt.Sprintf("%q is not executable", trimmed)
			return result
		}
		result.Available = true
		return result
	}

	path, err := exec.LookPath(trimmed)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found on PATH", trimmed)
		return result
	}
	result.Command = path
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
