package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// FCMSender sends data messages via Firebase Cloud Messaging. Call pushes
// are data-only so the Android app controls the ringing UI itself.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender obtains a messaging client from an initialised Firebase app.
func NewFCMSender(ctx context.Context, app *firebase.App) (*FCMSender, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	slog.Info("fcm sender initialised")
	return &FCMSender{client: client}, nil
}

// SendData delivers the payload as a high-priority data message. The TTL
// matches the ring timeout: a push that cannot be delivered while the
// call is still ringing is useless.
func (f *FCMSender) SendData(ctx context.Context, token string, p Payload) error {
	ttl := 60 * time.Second
	msg := &messaging.Message{
		Token: token,
		Data:  p.Data(),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm: token no longer valid: %w", err)
		}
		return fmt.Errorf("fcm: send failed: %w", err)
	}

	slog.Debug("fcm message sent", "message_id", id, "call_id", p.CallID, "type", p.Type)
	return nil
}
