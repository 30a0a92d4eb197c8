package push

import (
	"context"
	"log/slog"

	"github.com/memharbor/callcoord/internal/call"
)

// Dispatcher routes call notifications to the receiver's device. It picks
// the transport from the receiver's registered tokens: APNs VoIP for iOS,
// FCM data messages for Android. It implements call.Notifier.
type Dispatcher struct {
	tokens TokenSource
	apns   VoIPSender // nil when APNs is not configured
	fcm    DataSender // nil when FCM is not configured
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Either sender may be nil; a receiver
// whose platform has no configured sender simply gets no push.
func NewDispatcher(tokens TokenSource, apns VoIPSender, fcm DataSender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tokens: tokens,
		apns:   apns,
		fcm:    fcm,
		logger: logger.With("subsystem", "push"),
	}
}

// SendIncomingCall notifies the receiver's device of a new call. Returns
// whether a push was delivered and the platform it went to.
func (d *Dispatcher) SendIncomingCall(ctx context.Context, c *call.Call) (bool, string) {
	return d.dispatch(ctx, c, TypeIncomingCall)
}

// SendCallCancelled tells the receiver's device to stop ringing. The
// outcome is logged but not reported; by this point the call is already
// terminal.
func (d *Dispatcher) SendCallCancelled(ctx context.Context, c *call.Call) {
	d.dispatch(ctx, c, TypeCallCancelled)
}

func (d *Dispatcher) dispatch(ctx context.Context, c *call.Call, pushType string) (bool, string) {
	tokens, err := d.tokens.Tokens(ctx, c.ReceiverID)
	if err != nil {
		d.logger.Error("token lookup failed", "receiver", c.ReceiverID, "call_id", c.CallID, "error", err)
		return false, call.PlatformNone
	}
	if tokens == nil {
		d.logger.Info("receiver has no registered device", "receiver", c.ReceiverID, "call_id", c.CallID)
		return false, call.PlatformNone
	}

	p := Payload{
		Type:        pushType,
		CallID:      c.CallID,
		ChannelName: c.ChannelName,
		CallerName:  c.CallerName,
		CallerID:    c.CallerID,
		GroupID:     c.GroupID,
		ReceiverID:  c.ReceiverID,
	}

	// iOS gets an APNs VoIP push when a token is registered; everything
	// else falls back to FCM.
	if tokens.Platform == call.PlatformIOS && tokens.VoIPToken != "" && d.apns != nil {
		if err := d.apns.SendVoIP(ctx, tokens.VoIPToken, p, c.CallID); err != nil {
			d.logger.Error("apns push failed", "call_id", c.CallID, "type", pushType, "error", err)
			return false, call.PlatformNone
		}
		return true, call.PlatformIOS
	}

	if tokens.FCMToken != "" && d.fcm != nil {
		if err := d.fcm.SendData(ctx, tokens.FCMToken, p); err != nil {
			d.logger.Error("fcm push failed", "call_id", c.CallID, "type", pushType, "error", err)
			return false, call.PlatformNone
		}
		return true, call.PlatformAndroid
	}

	d.logger.Info("no usable push transport for receiver",
		"receiver", c.ReceiverID, "platform", tokens.Platform, "call_id", c.CallID)
	return false, call.PlatformNone
}
