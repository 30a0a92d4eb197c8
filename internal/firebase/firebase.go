// Package firebase wraps the Firebase backend used by the mobile apps:
// Firestore for user device tokens and recording metadata, Cloud Storage
// for recording archival, and the app handle the FCM sender is built from.
package firebase

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Service holds the initialised Firebase clients.
type Service struct {
	app        *firebase.App
	fs         *firestore.Client
	bucket     *storage.BucketHandle
	bucketName string
}

// New initialises the Firebase app from the service-account JSON file at
// credentialsFile. If credentialsFile is empty, the SDK falls back to
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
// storageBucket may be empty when recording archival is not used.
func New(ctx context.Context, credentialsFile, storageBucket string) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: storageBucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining firestore client: %w", err)
	}

	s := &Service{app: app, fs: fs, bucketName: storageBucket}

	if storageBucket != "" {
		storageClient, err := app.Storage(ctx)
		if err != nil {
			fs.Close()
			return nil, fmt.Errorf("obtaining storage client: %w", err)
		}
		bucket, err := storageClient.DefaultBucket()
		if err != nil {
			fs.Close()
			return nil, fmt.Errorf("obtaining default bucket: %w", err)
		}
		s.bucket = bucket
	}

	slog.Info("firebase initialised", "bucket", storageBucket)
	return s, nil
}

// App returns the underlying Firebase app, for building the FCM sender.
func (s *Service) App() *firebase.App {
	return s.app
}

// Close releases the Firestore connection.
func (s *Service) Close() error {
	return s.fs.Close()
}
