package testsupport

import (
	"context"
	"os"
	"sync"

	"carousel/internal/convert"
)

// StubEngine is a scriptable in-process convert.Engine for worker and queue
// tests. The zero value succeeds on every call, replaying a short default
// progress script and writing a small output file.
type StubEngine struct {
	mu      sync.Mutex
	calls   int
	perPath map[string]int

	// Updates are replayed to the progress callback before each successful
	// conversion finishes. Nil uses a default decoding/encoding script.
	Updates []convert.ProgressUpdate

	// OutputBytes sizes the fake output file. Values <= 0 write 64 bytes.
	OutputBytes int64

	// OnConvert, when set, decides each call's outcome before the success
	// path runs. Returning a non-nil error fails the call. Blocking on
	// ctx.Done and returning ctx.Err simulates a hung conversion.
	OnConvert func(ctx context.Context, call int, req convert.Request) error
}

var defaultUpdates = []convert.ProgressUpdate{
	{Percent: 50, Stage: "decoding", Message: "decoding image"},
	{Percent: 100, Stage: "decoding", Message: "decoded"},
	{Percent: 60, Stage: "encoding", Message: "encoding output"},
}

func (e *StubEngine) Convert(ctx context.Context, req convert.Request, progress func(convert.ProgressUpdate)) (convert.Result, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	if e.perPath == nil {
		e.perPath = make(map[string]int)
	}
	e.perPath[req.SourcePath]++
	e.mu.Unlock()

	if e.OnConvert != nil {
		if err := e.OnConvert(ctx, call, req); err != nil {
			return convert.Result{}, err
		}
	}

	updates := e.Updates
	if updates == nil {
		updates = defaultUpdates
	}
	for _, update := range updates {
		if err := ctx.Err(); err != nil {
			return convert.Result{}, err
		}
		if progress != nil {
			progress(update)
		}
	}

	size := e.OutputBytes
	if size <= 0 {
		size = 64
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xAB
	}
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return convert.Result{}, err
	}

	var originalBytes int64
	if info, err := os.Stat(req.SourcePath); err == nil {
		originalBytes = info.Size()
	}
	return convert.Result{
		OutputPath: req.OutputPath,
		Metadata:   convert.NewMetadata(originalBytes, size),
	}, nil
}

// Calls reports the total number of Convert invocations.
func (e *StubEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Attempts reports how many times the given source path was converted.
func (e *StubEngine) Attempts(sourcePath string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perPath[sourcePath]
}
