package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memharbor/callcoord/internal/naming"
)

// DefaultRingTimeout is how long a call may stay Pending before it is
// force-transitioned to Missed.
const DefaultRingTimeout = 60 * time.Second

// pushTimeout bounds a single push dispatch attempt during invite/cancel.
const pushTimeout = 10 * time.Second

// Notifier dispatches push notifications to a call's receiver. Delivery
// failures are reported through the return values, never as hard errors:
// the call proceeds regardless of push outcome.
type Notifier interface {
	// SendIncomingCall wakes the receiver's device for a new call.
	// It returns whether the push was delivered and on which platform
	// ("ios", "android" or "none").
	SendIncomingCall(ctx context.Context, c *Call) (sent bool, platform string)

	// SendCallCancelled tells the receiver's device to stop ringing.
	// Best-effort; the outcome is not recorded.
	SendCallCancelled(ctx context.Context, c *Call)
}

// Manager owns the call state machine: it creates Pending records, applies
// guarded transitions, arms a per-call ring-timeout timer and reconciles
// calls whose timers were lost to a restart. All mutations go through the
// Store's compare-and-swap primitives, so timer callbacks and HTTP requests
// racing the same call resolve to exactly one winner.
type Manager struct {
	store       Store
	notifier    Notifier // nil disables push dispatch
	ringTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a call manager. notifier may be nil when no push
// capability is configured.
func NewManager(store Store, notifier Notifier, ringTimeout time.Duration, logger *slog.Logger) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Manager{
		store:       store,
		notifier:    notifier,
		ringTimeout: ringTimeout,
		logger:      logger.With("subsystem", "call-manager"),
		now:         time.Now,
		timers:      make(map[string]*time.Timer),
	}
}

// InviteRequest carries the parameters of a new call invitation.
type InviteRequest struct {
	GroupID              string
	CallerID             string
	ReceiverID           string
	CallerName           string
	GroupNameSnapshot    string
	ReceiverNameSnapshot string
}

// Invite creates a Pending call record, arms the ring timeout and attempts
// push dispatch to the receiver. Push failure never fails the invite; it is
// recorded on the call as pushSent=false and the ring timeout stays armed.
func (m *Manager) Invite(ctx context.Context, req InviteRequest) (*Call, error) {
	now := m.now()

	callerName := req.CallerName
	if callerName == "" {
		callerName = req.CallerID
	}

	c := &Call{
		CallID:               uuid.NewString(),
		ChannelName:          naming.ChannelName(req.GroupID, req.CallerID, req.ReceiverID, now),
		GroupID:              req.GroupID,
		CallerID:             req.CallerID,
		ReceiverID:           req.ReceiverID,
		CallerName:           callerName,
		GroupNameSnapshot:    req.GroupNameSnapshot,
		ReceiverNameSnapshot: req.ReceiverNameSnapshot,
		Status:               StatusPending,
		CreatedAt:            now,
		PushPlatform:         PlatformNone,
	}

	if err := m.store.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("inserting call record: %w", err)
	}

	m.armTimer(c.CallID)

	if m.notifier != nil {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		sent, platform := m.notifier.SendIncomingCall(pushCtx, c)
		cancel()

		c.PushSent = sent
		c.PushPlatform = platform
		if err := m.store.UpdatePush(ctx, c.CallID, sent, platform); err != nil {
			m.logger.Error("failed to record push outcome", "call_id", c.CallID, "error", err)
		}
	}

	m.logger.Info("call invited",
		"call_id", c.CallID,
		"channel", c.ChannelName,
		"caller", c.CallerID,
		"receiver", c.ReceiverID,
		"push_sent", c.PushSent,
	)

	return c, nil
}

// Answer accepts or declines a Pending call. action must be "accept" or
// "decline". On success the ring timeout is disarmed and the updated record
// returned. A non-Pending call yields the current record and
// ErrInvalidTransition.
func (m *Manager) Answer(ctx context.Context, callID, action string) (*Call, error) {
	now := m.now()

	var to Status
	switch action {
	case "accept":
		to = StatusAccepted
	case "decline":
		to = StatusDeclined
	default:
		return nil, fmt.Errorf("unknown answer action %q", action)
	}

	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.TryTransition(ctx, callID, StatusPending, Transition{
		To:         to,
		AnsweredAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("answering call: %w", err)
	}
	if !ok {
		return m.reload(ctx, callID, c)
	}

	m.disarmTimer(callID)
	m.logger.Info("call answered", "call_id", callID, "action", action)

	c.Status = to
	c.AnsweredAt = &now
	return c, nil
}

// Cancel transitions a Pending call to Cancelled (caller hung up before an
// answer), disarms the ring timeout and sends a best-effort cancellation
// push to the receiver.
func (m *Manager) Cancel(ctx context.Context, callID string) (*Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.TryTransition(ctx, callID, StatusPending, Transition{To: StatusCancelled})
	if err != nil {
		return nil, fmt.Errorf("cancelling call: %w", err)
	}
	if !ok {
		return m.reload(ctx, callID, c)
	}

	m.disarmTimer(callID)
	c.Status = StatusCancelled

	if m.notifier != nil {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		m.notifier.SendCallCancelled(pushCtx, c)
		cancel()
	}

	m.logger.Info("call cancelled", "call_id", callID)
	return c, nil
}

// Missed transitions a Pending call to Missed on a client-reported ring
// timeout. The server-side sweep reaches the same terminal state through
// the same Pending guard.
func (m *Manager) Missed(ctx context.Context, callID string) (*Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.TryTransition(ctx, callID, StatusPending, Transition{To: StatusMissed})
	if err != nil {
		return nil, fmt.Errorf("marking call missed: %w", err)
	}
	if !ok {
		return m.reload(ctx, callID, c)
	}

	m.disarmTimer(callID)
	m.logger.Info("call missed", "call_id", callID)

	c.Status = StatusMissed
	return c, nil
}

// End terminates an Accepted call, setting endedAt and the call duration
// in seconds measured from answeredAt.
func (m *Manager) End(ctx context.Context, callID string) (*Call, error) {
	now := m.now()

	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	var duration int
	if c.AnsweredAt != nil {
		duration = int(now.Sub(*c.AnsweredAt).Seconds())
	}

	ok, err := m.store.TryTransition(ctx, callID, StatusAccepted, Transition{
		To:          StatusEnded,
		EndedAt:     &now,
		DurationSec: &duration,
	})
	if err != nil {
		return nil, fmt.Errorf("ending call: %w", err)
	}
	if !ok {
		return m.reload(ctx, callID, c)
	}

	m.disarmTimer(callID)
	m.logger.Info("call ended", "call_id", callID, "duration_sec", duration)

	c.Status = StatusEnded
	c.EndedAt = &now
	c.DurationSec = &duration
	return c, nil
}

// Status returns the full record for a call, or ErrCallNotFound.
func (m *Manager) Status(ctx context.Context, callID string) (*Call, error) {
	return m.load(ctx, callID)
}

// Sweep force-transitions every Pending call older than timeout to Missed
// and returns the number changed. It is safe to run concurrently with
// per-call timers and manual transitions: each record is claimed through
// the same Pending guard, so whichever path reaches it first wins and the
// others observe a terminal state. Running the sweep twice in a row with no
// new calls yields zero on the second pass.
func (m *Manager) Sweep(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := m.now().Add(-timeout)

	expired, err := m.store.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired calls: %w", err)
	}

	for _, id := range expired {
		m.disarmTimer(id)
	}

	if len(expired) > 0 {
		m.logger.Info("timeout sweep expired calls", "count", len(expired))
	}
	return len(expired), nil
}

// StartSweepTicker runs Sweep with the manager's ring timeout every
// interval until ctx is cancelled. This compensates for per-call timers
// lost to a process restart; the Pending guard makes the extra passes
// harmless.
func (m *Manager) StartSweepTicker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Sweep(ctx, m.ringTimeout); err != nil {
					m.logger.Error("periodic sweep failed", "error", err)
				}
			}
		}
	}()
}

// Shutdown stops all armed ring-timeout timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// load fetches a call or translates absence into ErrCallNotFound.
func (m *Manager) load(ctx context.Context, callID string) (*Call, error) {
	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("loading call: %w", err)
	}
	if c == nil {
		return nil, ErrCallNotFound
	}
	return c, nil
}

// reload re-reads the record after a failed guard so the caller can report
// the current (typically terminal) status alongside ErrInvalidTransition.
func (m *Manager) reload(ctx context.Context, callID string, fallback *Call) (*Call, error) {
	if fresh, err := m.store.Get(ctx, callID); err == nil && fresh != nil {
		return fresh, ErrInvalidTransition
	}
	return fallback, ErrInvalidTransition
}

// armTimer schedules the ring-timeout expiry for a call. Firing is guarded
// by the Pending check, so a timer that outlives an answered call is a
// harmless no-op even if disarming raced the transition.
func (m *Manager) armTimer(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[callID]; ok {
		existing.Stop()
	}
	m.timers[callID] = time.AfterFunc(m.ringTimeout, func() {
		m.expireTimer(callID)
	})
}

// disarmTimer cancels a call's pending expiry. Best-effort: a timer that
// already fired simply loses the Pending race.
func (m *Manager) disarmTimer(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[callID]; ok {
		t.Stop()
		delete(m.timers, callID)
	}
}

// expireTimer is the timer callback: transition to Missed only if the call
// is still Pending.
func (m *Manager) expireTimer(callID string) {
	m.mu.Lock()
	delete(m.timers, callID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := m.store.TryTransition(ctx, callID, StatusPending, Transition{To: StatusMissed})
	if err != nil {
		m.logger.Error("ring timeout transition failed", "call_id", callID, "error", err)
		return
	}
	if ok {
		m.logger.Info("call missed on ring timeout", "call_id", callID)
	}
}
