package worker

import "carousel/internal/task"

// ChunkSize picks how many files a batch session processes per chunk,
// adapted to average file size so huge sources checkpoint after every
// file while thumbnails flow through in groups.
func ChunkSize(avgBytes int64) int {
	switch {
	case avgBytes < 1<<20:
		return 10
	case avgBytes < 10<<20:
		return 5
	case avgBytes < 50<<20:
		return 3
	default:
		return 1
	}
}

// Chunks splits files into consecutive groups of at most size entries.
func Chunks(files []task.FilePayload, size int) [][]task.FilePayload {
	if size <= 0 {
		size = 1
	}
	var out [][]task.FilePayload
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[start:end])
	}
	return out
}

func averageSize(files []task.FilePayload) int64 {
	if len(files) == 0 {
		return 0
	}
	var total int64
	for _, file := range files {
		total += file.SizeBytes
	}
	return total / int64(len(files))
}
