package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/memharbor/callcoord/internal/call"
	"github.com/memharbor/callcoord/internal/capture"
	"github.com/memharbor/callcoord/internal/config"
	"github.com/memharbor/callcoord/internal/recording"
)

type fakeHandle struct {
	payload []byte
}

func (h *fakeHandle) StopAndRetrieve(ctx context.Context) ([]byte, error) {
	return h.payload, nil
}

func (h *fakeHandle) Close(ctx context.Context) error { return nil }

type fakeCapability struct {
	payload []byte
	joinErr error
}

func (c *fakeCapability) Join(ctx context.Context, channel string, opts capture.JoinOptions) (capture.Handle, error) {
	if c.joinErr != nil {
		return nil, c.joinErr
	}
	return &fakeHandle{payload: c.payload}, nil
}

// stubTranscoder prefixes the raw capture with a WAV-header-sized block so
// size and duration math behave like the real thing.
type stubTranscoder struct{}

func (stubTranscoder) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	out := append(make([]byte, 44), data...)
	return os.WriteFile(outputPath, out, 0640)
}

func newTestServer(t *testing.T, cap capture.Capability) *Server {
	t.Helper()

	dataDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		DataDir:        dataDir,
		RingTimeoutSec: 60,
	}

	mgr := call.NewManager(call.NewMemoryStore(), nil, time.Minute, logger)
	t.Cleanup(mgr.Shutdown)

	pipeline := recording.NewPipeline(cfg.RecordingsDir(), stubTranscoder{}, nil, logger)
	recorder := recording.NewRecorder(cap, pipeline, logger)

	srv := NewServer(mgr, recorder, cfg)
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs a request against the server and decodes the JSON body.
func doJSON(t *testing.T, srv *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, decoded
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeCapability{payload: []byte("audio")})

	code, body := doJSON(t, srv, http.MethodGet, "/health", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["activeSessions"] != float64(0) {
		t.Errorf("activeSessions = %v, want 0", body["activeSessions"])
	}

	doJSON(t, srv, http.MethodPost, "/start", map[string]any{"channel": "c1"})

	_, body = doJSON(t, srv, http.MethodGet, "/health", nil)
	if body["activeSessions"] != float64(1) {
		t.Errorf("activeSessions = %v, want 1 with a session running", body["activeSessions"])
	}
}

func TestRecordingsDirMatchesPipeline(t *testing.T) {
	srv := newTestServer(t, &fakeCapability{payload: make([]byte, 32000)})

	doJSON(t, srv, http.MethodPost, "/start", map[string]any{"channel": "c1"})
	code, stop := doJSON(t, srv, http.MethodPost, "/stop", map[string]any{"channel": "c1"})
	if code != http.StatusOK {
		t.Fatalf("stop status = %d: %v", code, stop)
	}

	// The file reported by stop must be visible to the listing endpoint.
	_, listing := doJSON(t, srv, http.MethodGet, "/recordings", nil)
	recs, _ := listing["recordings"].([]any)
	if len(recs) != 1 {
		t.Fatalf("recordings listed = %d, want 1", len(recs))
	}
	entry := recs[0].(map[string]any)
	if entry["filename"] != stop["filename"] {
		t.Errorf("listing filename = %v, stop filename = %v", entry["filename"], stop["filename"])
	}
	if _, err := os.Stat(filepath.Join(srv.cfg.RecordingsDir(), stop["filename"].(string))); err != nil {
		t.Errorf("reported file missing on disk: %v", err)
	}
}
