package call

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeNotifier struct {
	mu        sync.Mutex
	sent      bool
	platform  string
	incoming  []*Call
	cancelled []*Call
}

func (f *fakeNotifier) SendIncomingCall(_ context.Context, c *Call) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = append(f.incoming, c.Clone())
	return f.sent, f.platform
}

func (f *fakeNotifier) SendCallCancelled(_ context.Context, c *Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, c.Clone())
}

func (f *fakeNotifier) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, notifier Notifier, timeout time.Duration) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m := NewManager(store, notifier, timeout, testLogger())
	t.Cleanup(m.Shutdown)
	return m, store
}

func invite(t *testing.T, m *Manager) *Call {
	t.Helper()
	c, err := m.Invite(context.Background(), InviteRequest{
		GroupID:    "g1",
		CallerID:   "alice",
		ReceiverID: "bob",
		CallerName: "Alice",
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	return c
}

func TestInviteCreatesPendingCall(t *testing.T) {
	n := &fakeNotifier{sent: true, platform: PlatformIOS}
	m, store := newTestManager(t, n, time.Minute)

	c := invite(t, m)

	if c.Status != StatusPending {
		t.Errorf("status = %s, want pending", c.Status)
	}
	if c.CallID == "" || c.ChannelName == "" {
		t.Errorf("missing identifiers: %+v", c)
	}
	if !c.PushSent || c.PushPlatform != PlatformIOS {
		t.Errorf("push outcome not recorded on call: sent=%v platform=%s", c.PushSent, c.PushPlatform)
	}

	stored, _ := store.Get(context.Background(), c.CallID)
	if stored == nil || !stored.PushSent {
		t.Errorf("push outcome not persisted: %+v", stored)
	}
}

func TestInvitePushFailureDoesNotFailInvite(t *testing.T) {
	n := &fakeNotifier{sent: false, platform: PlatformNone}
	m, _ := newTestManager(t, n, time.Minute)

	c := invite(t, m)

	if c.Status != StatusPending {
		t.Errorf("status = %s, want pending despite push failure", c.Status)
	}
	if c.PushSent {
		t.Error("pushSent should be false")
	}
}

func TestInviteDefaultsCallerName(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)

	c, err := m.Invite(context.Background(), InviteRequest{
		GroupID:    "g1",
		CallerID:   "alice",
		ReceiverID: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.CallerName != "alice" {
		t.Errorf("callerName = %q, want caller id fallback", c.CallerName)
	}
}

func TestAnswerAccept(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	got, err := m.Answer(context.Background(), c.CallID, "accept")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Error("answeredAt not set")
	}
	if got.EndedAt != nil {
		t.Error("endedAt set before call ended")
	}
}

func TestAnswerDeclineIsTerminal(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	got, err := m.Answer(context.Background(), c.CallID, "decline")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got.Status != StatusDeclined {
		t.Errorf("status = %s, want declined", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Error("answeredAt not set on decline")
	}

	// Any further transition must be rejected with the current status.
	_, err = m.Answer(context.Background(), c.CallID, "accept")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after decline err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Cancel(context.Background(), c.CallID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after decline err = %v, want ErrInvalidTransition", err)
	}
}

func TestAnswerUnknownAction(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	if _, err := m.Answer(context.Background(), c.CallID, "maybe"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestAnswerUnknownCall(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)

	_, err := m.Answer(context.Background(), "ghost", "accept")
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("err = %v, want ErrCallNotFound", err)
	}
}

func TestCancelSendsCancellationPush(t *testing.T) {
	n := &fakeNotifier{sent: true, platform: PlatformAndroid}
	m, _ := newTestManager(t, n, time.Minute)
	c := invite(t, m)

	got, err := m.Cancel(context.Background(), c.CallID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if n.cancelledCount() != 1 {
		t.Errorf("cancellation pushes = %d, want 1", n.cancelledCount())
	}
}

func TestCancelAfterAcceptRejected(t *testing.T) {
	n := &fakeNotifier{sent: true, platform: PlatformIOS}
	m, _ := newTestManager(t, n, time.Minute)
	c := invite(t, m)

	if _, err := m.Answer(context.Background(), c.CallID, "accept"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Cancel(context.Background(), c.CallID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("reported status = %s, want accepted", got.Status)
	}
	if n.cancelledCount() != 0 {
		t.Error("cancellation push sent for a rejected cancel")
	}
}

func TestEndComputesDuration(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	c := invite(t, m)

	m.now = func() time.Time { return base.Add(5 * time.Second) }
	if _, err := m.Answer(context.Background(), c.CallID, "accept"); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(47 * time.Second) }
	got, err := m.End(context.Background(), c.CallID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if got.Status != StatusEnded {
		t.Errorf("status = %s, want ended", got.Status)
	}
	if got.DurationSec == nil || *got.DurationSec != 42 {
		t.Errorf("duration = %v, want 42", got.DurationSec)
	}
	if got.EndedAt == nil {
		t.Error("endedAt not set")
	}
}

func TestEndPendingCallRejected(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	got, err := m.End(context.Background(), c.CallID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if got.Status != StatusPending {
		t.Errorf("reported status = %s, want pending", got.Status)
	}
}

func TestEndIdempotenceRejected(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	if _, err := m.Answer(context.Background(), c.CallID, "accept"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(context.Background(), c.CallID); err != nil {
		t.Fatal(err)
	}

	got, err := m.End(context.Background(), c.CallID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second end err = %v, want ErrInvalidTransition", err)
	}
	if got.Status != StatusEnded {
		t.Errorf("status = %s, want ended", got.Status)
	}
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	m, store := newTestManager(t, nil, 20*time.Millisecond)
	c := invite(t, m)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Get(context.Background(), c.CallID)
		if got.Status == StatusMissed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call never expired, status = %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAcceptBeatsRingTimeout(t *testing.T) {
	m, store := newTestManager(t, nil, 30*time.Millisecond)
	c := invite(t, m)

	if _, err := m.Answer(context.Background(), c.CallID, "accept"); err != nil {
		t.Fatal(err)
	}

	// Wait past the original timeout; the fired-or-disarmed timer must not
	// override the accepted state.
	time.Sleep(80 * time.Millisecond)

	got, _ := store.Get(context.Background(), c.CallID)
	if got.Status != StatusAccepted {
		t.Fatalf("status = %s after timeout elapsed, want accepted", got.Status)
	}
}

func TestSweepExpiresOnlyStalePending(t *testing.T) {
	m, store := newTestManager(t, nil, time.Minute)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	stale := invite(t, m)
	answered := invite(t, m)
	if _, err := m.Answer(context.Background(), answered.CallID, "accept"); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	fresh := invite(t, m)

	count, err := m.Sweep(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("swept %d calls, want 1", count)
	}

	if got, _ := store.Get(context.Background(), stale.CallID); got.Status != StatusMissed {
		t.Errorf("stale call status = %s, want missed", got.Status)
	}
	if got, _ := store.Get(context.Background(), answered.CallID); got.Status != StatusAccepted {
		t.Errorf("answered call status = %s, want accepted", got.Status)
	}
	if got, _ := store.Get(context.Background(), fresh.CallID); got.Status != StatusPending {
		t.Errorf("fresh call status = %s, want pending", got.Status)
	}

	// Immediately repeating the sweep must find nothing.
	count, err = m.Sweep(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("second sweep expired %d calls, want 0", count)
	}
}

func TestConcurrentAnswerSingleWinner(t *testing.T) {
	m, store := newTestManager(t, nil, time.Minute)
	c := invite(t, m)

	const racers = 8
	var wg sync.WaitGroup
	var okCount int32
	var mu sync.Mutex

	for i := 0; i < racers; i++ {
		action := "accept"
		if i%2 == 1 {
			action = "decline"
		}
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			_, err := m.Answer(context.Background(), c.CallID, action)
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(action)
	}
	wg.Wait()

	if okCount != 1 {
		t.Fatalf("successful answers = %d, want 1", okCount)
	}
	got, _ := store.Get(context.Background(), c.CallID)
	if got.Status != StatusAccepted && got.Status != StatusDeclined {
		t.Fatalf("final status = %s", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Error("answeredAt not set by winning answer")
	}
}

func TestStatusUnknownCall(t *testing.T) {
	m, _ := newTestManager(t, nil, time.Minute)

	if _, err := m.Status(context.Background(), "ghost"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("err = %v, want ErrCallNotFound", err)
	}
}
