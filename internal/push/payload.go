// Package push delivers call notifications to mobile devices over APNs
// (VoIP pushes for iOS) and Firebase Cloud Messaging (data messages for
// Android). The dispatcher picks the transport per receiver and reports
// the outcome; delivery failure is never fatal to a call.
package push

import "context"

// Payload types.
const (
	TypeIncomingCall  = "incoming_call"
	TypeCallCancelled = "call_cancelled"
)

// Payload is the notification content shared by both transports. All
// fields travel as strings so the FCM data message and the APNs custom
// keys carry identical shapes.
type Payload struct {
	Type        string
	CallID      string
	ChannelName string
	CallerName  string
	CallerID    string
	GroupID     string
	ReceiverID  string
}

// Data returns the payload as the flat string map both transports send.
func (p Payload) Data() map[string]string {
	return map[string]string{
		"type":        p.Type,
		"callId":      p.CallID,
		"channelName": p.ChannelName,
		"callerName":  p.CallerName,
		"callerID":    p.CallerID,
		"groupId":     p.GroupID,
		"receiverId":  p.ReceiverID,
	}
}

// DeviceTokens is the push addressing info stored for one user.
type DeviceTokens struct {
	FCMToken  string
	VoIPToken string
	Platform  string // "ios" or "android"
}

// TokenSource resolves a user id to their device tokens. A nil result
// with nil error means the user has no registered device.
type TokenSource interface {
	Tokens(ctx context.Context, userID string) (*DeviceTokens, error)
}

// VoIPSender delivers a payload as an APNs VoIP push.
type VoIPSender interface {
	SendVoIP(ctx context.Context, token string, p Payload, collapseID string) error
}

// DataSender delivers a payload as an FCM data message.
type DataSender interface {
	SendData(ctx context.Context, token string, p Payload) error
}
