package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAgentClientJoinStopRelease(t *testing.T) {
	var stopped, released bool

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/captures", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding join request: %v", err)
		}
		if req.Channel != "g1_a_b_123" {
			t.Errorf("channel = %q", req.Channel)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(joinResponse{CaptureID: "cap-1"})
	})
	mux.HandleFunc("/v1/captures/cap-1/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stopped = true
		w.Write([]byte("audio-bytes"))
	})
	mux.HandleFunc("/v1/captures/cap-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		released = true
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewAgentClient(srv.URL)
	ctx := context.Background()

	h, err := c.Join(ctx, "g1_a_b_123", JoinOptions{UID: 7})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	payload, err := h.StopAndRetrieve(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if string(payload) != "audio-bytes" {
		t.Errorf("payload = %q", payload)
	}
	if !stopped {
		t.Error("stop endpoint not hit")
	}

	if err := h.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !released {
		t.Error("release endpoint not hit")
	}
}

func TestAgentClientJoinError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(errorEnvelope{Error: "channel busy"})
	}))
	defer srv.Close()

	c := NewAgentClient(srv.URL)
	if _, err := c.Join(context.Background(), "ch", JoinOptions{}); err == nil {
		t.Fatal("expected error from agent")
	}
}

func TestAgentClientCloseToleratesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/captures":
			json.NewEncoder(w).Encode(joinResponse{CaptureID: "cap-2"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAgentClient(srv.URL)
	h, err := c.Join(context.Background(), "ch", JoinOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("close on missing capture should be nil, got %v", err)
	}
}

func TestUnconfiguredJoinFails(t *testing.T) {
	_, err := Unconfigured{}.Join(context.Background(), "ch", JoinOptions{})
	if err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
