package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry describes one recording file on disk.
type Entry struct {
	Filename   string    `json:"filename"`
	Format     string    `json:"format"`
	SizeBytes  int64     `json:"sizeBytes"`
	DurationMS int64     `json:"durationMs"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// ListDir returns the recordings under dir, newest first. Only .wav and
// .webm files are included; anything else in the directory is ignored.
// WAV durations are exact for the fixed archival format, webm durations
// are estimates.
func ListDir(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading recordings directory: %w", err)
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		var format string
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".wav":
			format = "wav"
		case ".webm":
			format = rawFormat
		default:
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		var duration int64
		if format == "wav" {
			duration = wavDurationMS(info.Size())
		} else {
			duration = rawDurationEstimateMS(info.Size())
		}

		out = append(out, Entry{
			Filename:   e.Name(),
			Format:     format,
			SizeBytes:  info.Size(),
			DurationMS: duration,
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}
