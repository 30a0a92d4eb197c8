// Package transcode converts captured audio containers into the archival
// WAV format by shelling out to ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Target parameters for archival audio: 16 kHz mono signed 16-bit PCM.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
	Codec      = "pcm_s16le"
)

// BytesPerSecond is the WAV data rate at the target parameters.
const BytesPerSecond = SampleRate * Channels * (BitDepth / 8)

// Transcoder converts an audio file on disk into the target WAV format.
type Transcoder interface {
	ToWAV(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg runs the ffmpeg binary for each conversion.
type FFmpeg struct {
	// Binary is the ffmpeg executable path. Empty means "ffmpeg" on PATH.
	Binary string
}

// NewFFmpeg creates a transcoder using the given ffmpeg binary path.
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

// ToWAV converts inputPath into 16 kHz mono s16le WAV at outputPath,
// overwriting any existing file. ffmpeg's stderr is included in the error
// on failure since that is where it reports decode problems.
func (f *FFmpeg) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, f.Binary, args(inputPath, outputPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 1024 {
			msg = msg[len(msg)-1024:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}

// args builds the ffmpeg argument list for a conversion.
func args(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", Codec,
		"-f", "wav",
		outputPath,
	}
}
