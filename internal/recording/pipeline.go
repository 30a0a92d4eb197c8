package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/memharbor/callcoord/internal/capture"
	"github.com/memharbor/callcoord/internal/naming"
	"github.com/memharbor/callcoord/internal/transcode"
)

// rawFormat is the container the capture agent hands back.
const rawFormat = "webm"

// wavHeaderSize is the canonical RIFF/WAVE header length produced by the
// transcoder; duration math subtracts it from file size.
const wavHeaderSize = 44

// ErrEmptyCapture is returned when the agent hands back zero audio bytes.
// Nothing is written to disk in that case.
var ErrEmptyCapture = errors.New("capture returned empty audio payload")

// AudioSpec describes the archival audio parameters of a recording.
type AudioSpec struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bitDepth"`
	Codec      string `json:"codec"`
}

// archivalSpec is the audio format every successfully transcoded recording has.
func archivalSpec() *AudioSpec {
	return &AudioSpec{
		SampleRate: transcode.SampleRate,
		Channels:   transcode.Channels,
		BitDepth:   transcode.BitDepth,
		Codec:      transcode.Codec,
	}
}

// UploadResult reports where a recording landed in cloud storage.
type UploadResult struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath"`
	FirestoreID string `json:"firestoreId"`
}

// UploadMetadata accompanies a recording into cloud storage.
type UploadMetadata struct {
	Filename    string
	Channel     string
	Participant naming.Participant
	Format      string
	DurationMS  int64
	SizeBytes   int64
	RecordedAt  time.Time
}

// Uploader archives a finished recording. Implementations must not delete
// the local file.
type Uploader interface {
	UploadRecording(ctx context.Context, localPath string, meta UploadMetadata) (*UploadResult, error)
}

// Result describes a finished recording session.
type Result struct {
	SID     string             `json:"sid"`
	Channel string             `json:"channel"`
	UID     int                `json:"uid"`
	GroupID string             `json:"groupId,omitempty"`
	User1   string             `json:"user1,omitempty"`
	User2   string             `json:"user2,omitempty"`

	Filename   string     `json:"filename"`
	Filepath   string     `json:"filepath"`
	Format     string     `json:"format"`
	Spec       *AudioSpec `json:"spec"`
	DurationMS int64      `json:"durationMs"`
	SizeBytes  int64      `json:"sizeBytes"`

	Firebase        *UploadResult `json:"firebase,omitempty"`
	TranscodeFailed bool          `json:"transcodeFailed,omitempty"`
}

// Pipeline turns a stopped capture into an archived recording: retrieve
// the buffered audio, persist the raw container, transcode to WAV, and
// upload. Transcode and upload failures degrade the result instead of
// discarding audio: the raw file is retained on transcode failure, and a
// missing upload leaves the recording local-only.
type Pipeline struct {
	dir        string
	transcoder transcode.Transcoder
	uploader   Uploader // nil disables cloud archival
	logger     *slog.Logger
}

// NewPipeline creates a pipeline writing recordings under dir.
func NewPipeline(dir string, transcoder transcode.Transcoder, uploader Uploader, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		dir:        dir,
		transcoder: transcoder,
		uploader:   uploader,
		logger:     logger.With("subsystem", "recording-pipeline"),
	}
}

// Process runs the full stop pipeline for a claimed session. The capture
// handle is always closed exactly once, whatever the outcome.
func (p *Pipeline) Process(ctx context.Context, sess *Session, handle capture.Handle) (*Result, error) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := handle.Close(closeCtx); err != nil {
			p.logger.Warn("failed to release capture", "sid", sess.SID, "error", err)
		}
	}()

	payload, err := handle.StopAndRetrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving captured audio: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyCapture
	}

	if err := os.MkdirAll(p.dir, 0750); err != nil {
		return nil, fmt.Errorf("creating recordings directory: %w", err)
	}

	base := naming.RecordingBase(sess.Participant, sess.Channel, sess.StartedAt, sess.SID)

	rawName := base + "." + rawFormat
	rawPath := filepath.Join(p.dir, rawName)
	if err := os.WriteFile(rawPath, payload, 0640); err != nil {
		return nil, fmt.Errorf("writing raw capture: %w", err)
	}

	res := &Result{
		SID:     sess.SID,
		Channel: sess.Channel,
		UID:     sess.UID,
		GroupID: sess.Participant.GroupID,
		User1:   sess.Participant.User1,
		User2:   sess.Participant.User2,
	}

	wavName := base + ".wav"
	wavPath := filepath.Join(p.dir, wavName)

	if err := p.transcoder.ToWAV(ctx, rawPath, wavPath); err != nil {
		// Keep the raw container so the audio is not lost.
		p.logger.Error("transcode failed, retaining raw capture",
			"sid", sess.SID, "path", rawPath, "error", err)
		os.Remove(wavPath)

		res.Filename = rawName
		res.Filepath = rawPath
		res.Format = rawFormat
		res.SizeBytes = int64(len(payload))
		res.DurationMS = rawDurationEstimateMS(int64(len(payload)))
		res.TranscodeFailed = true
	} else {
		info, err := os.Stat(wavPath)
		if err != nil {
			return nil, fmt.Errorf("stating transcoded recording: %w", err)
		}
		os.Remove(rawPath)

		res.Filename = wavName
		res.Filepath = wavPath
		res.Format = "wav"
		res.Spec = archivalSpec()
		res.SizeBytes = info.Size()
		res.DurationMS = wavDurationMS(info.Size())
	}

	if p.uploader != nil {
		upload, err := p.uploader.UploadRecording(ctx, res.Filepath, UploadMetadata{
			Filename:    res.Filename,
			Channel:     sess.Channel,
			Participant: sess.Participant,
			Format:      res.Format,
			DurationMS:  res.DurationMS,
			SizeBytes:   res.SizeBytes,
			RecordedAt:  sess.StartedAt,
		})
		if err != nil {
			p.logger.Error("recording upload failed, keeping local copy",
				"sid", sess.SID, "file", res.Filename, "error", err)
		} else {
			res.Firebase = upload
		}
	}

	p.logger.Info("recording finished",
		"sid", sess.SID,
		"file", res.Filename,
		"format", res.Format,
		"duration_ms", res.DurationMS,
		"uploaded", res.Firebase != nil,
	)
	return res, nil
}

// wavDurationMS derives playback duration from file size for the fixed
// archival format.
func wavDurationMS(size int64) int64 {
	data := size - wavHeaderSize
	if data <= 0 {
		return 0
	}
	return data * 1000 / transcode.BytesPerSecond
}

// rawDurationEstimateMS is a rough duration for an untranscoded capture,
// assuming the agent's nominal 32 kbit/s opus-in-webm stream. Good enough
// for listings; the real value arrives if the file is ever re-transcoded.
func rawDurationEstimateMS(size int64) int64 {
	const bytesPerSecond = 4000
	if size <= 0 {
		return 0
	}
	return size * 1000 / bytesPerSecond
}
