package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/",
		CacheDir: t.TempDir(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "  ", CacheDir: t.TempDir()}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestSpeakToFileCachesResult(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte{1, 2, 3, 4})
	})

	ctx := context.Background()
	req := Request{Text: " Queue number 0 0 7 ", Voice: "shimmer", Speed: 0.9}

	first, err := c.SpeakToFile(ctx, req)
	if err != nil {
		t.Fatalf("SpeakToFile: %v", err)
	}
	if first.CacheHit {
		t.Error("first call should miss cache")
	}
	second, err := c.SpeakToFile(ctx, req)
	if err != nil {
		t.Fatalf("SpeakToFile again: %v", err)
	}
	if !second.CacheHit || second.Path != first.Path {
		t.Errorf("second call = %+v, want cache hit on %s", second, first.Path)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}

	if got["voice"] != "shimmer" || got["input"] != "Queue number 0 0 7" || got["response_format"] != "pcm" {
		t.Errorf("payload = %v", got)
	}
}

func TestSpeakReadsAudioBack(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pcmdata"))
	})

	b, res, err := c.Speak(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(b) != "pcmdata" || res.CacheHit {
		t.Errorf("got %q %+v", b, res)
	}
}

func TestSpeakToFileSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	})

	_, err := c.SpeakToFile(context.Background(), Request{Text: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCacheKeyDependsOnVoiceAndSpeed(t *testing.T) {
	c := &Client{cfg: Config{Model: "tts-1", ResponseFormat: "pcm"}}
	base := c.cacheKey(Request{Text: "a", Voice: "nova", Speed: 1})
	if base == c.cacheKey(Request{Text: "a", Voice: "alloy", Speed: 1}) {
		t.Error("voice should change the key")
	}
	if base == c.cacheKey(Request{Text: "a", Voice: "nova", Speed: 0.9}) {
		t.Error("speed should change the key")
	}
}
