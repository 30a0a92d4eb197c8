package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/memharbor/callcoord/internal/recording"
)

// recordingsCollection holds one metadata document per archived recording.
const recordingsCollection = "recordings"

// storagePrefix is the object-name prefix for recordings in the bucket.
const storagePrefix = "recordings"

// UploadRecording implements recording.Uploader: stream the file into the
// storage bucket and write a metadata document the mobile apps query.
func (s *Service) UploadRecording(ctx context.Context, localPath string, meta recording.UploadMetadata) (*recording.UploadResult, error) {
	if s.bucket == nil {
		return nil, errors.New("firebase: no storage bucket configured")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	objectPath := path.Join(storagePrefix, meta.Filename)
	w := s.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType(meta.Format)

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return nil, fmt.Errorf("uploading recording: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalising upload: %w", err)
	}

	doc := map[string]any{
		"filename":    meta.Filename,
		"channel":     meta.Channel,
		"groupId":     meta.Participant.GroupID,
		"user1":       meta.Participant.User1,
		"user2":       meta.Participant.User2,
		"format":      meta.Format,
		"durationMs":  meta.DurationMS,
		"sizeBytes":   meta.SizeBytes,
		"recordedAt":  meta.RecordedAt,
		"storagePath": objectPath,
	}

	ref, _, err := s.fs.Collection(recordingsCollection).Add(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("writing recording metadata: %w", err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, objectPath)

	slog.Info("recording archived",
		"file", meta.Filename,
		"object", objectPath,
		"firestore_id", ref.ID,
	)

	return &recording.UploadResult{
		URL:         url,
		StoragePath: objectPath,
		FirestoreID: ref.ID,
	}, nil
}

func contentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
