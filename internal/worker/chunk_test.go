package worker

import (
	"testing"

	"carousel/internal/task"
)

func TestChunkSize(t *testing.T) {
	cases := []struct {
		name     string
		avgBytes int64
		want     int
	}{
		{"empty", 0, 10},
		{"small", 500 << 10, 10},
		{"one mib boundary", 1 << 20, 5},
		{"medium", 5 << 20, 5},
		{"ten mib boundary", 10 << 20, 3},
		{"large", 20 << 20, 3},
		{"fifty mib boundary", 50 << 20, 1},
		{"huge", 100 << 20, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChunkSize(tc.avgBytes); got != tc.want {
				t.Errorf("ChunkSize(%d) = %d, want %d", tc.avgBytes, got, tc.want)
			}
		})
	}
}

func TestChunksGroupsInOrder(t *testing.T) {
	files := make([]task.FilePayload, 7)
	for i := range files {
		files[i] = task.FilePayload{Name: string(rune('a' + i))}
	}

	chunks := Chunks(files, 3)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("chunk sizes = %d,%d,%d, want 3,3,1", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[0][0].Name != "a" || chunks[2][0].Name != "g" {
		t.Error("chunking reordered files")
	}
}

func TestChunksZeroSize(t *testing.T) {
	files := []task.FilePayload{{Name: "a"}, {Name: "b"}}
	chunks := Chunks(files, 0)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
}

func TestChunksEmpty(t *testing.T) {
	if chunks := Chunks(nil, 5); len(chunks) != 0 {
		t.Fatalf("len(chunks) = %d, want 0", len(chunks))
	}
}

func TestAverageSize(t *testing.T) {
	files := []task.FilePayload{{SizeBytes: 100}, {SizeBytes: 300}}
	if got := averageSize(files); got != 200 {
		t.Errorf("averageSize = %d, want 200", got)
	}
	if got := averageSize(nil); got != 0 {
		t.Errorf("averageSize(nil) = %d, want 0", got)
	}
}
