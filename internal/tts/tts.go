package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Voice          string // used when a request names none
	ResponseFormat string // pcm, wav, mp3, etc
	Timeout        time.Duration
	CacheDir       string
	MaxTextChars   int
}

type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger

	sf singleflight.Group
}

// Request is one synthesis job.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

type SpeakResult struct {
	Path     string
	CacheHit bool
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("missing OpenAI API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "tts-1-hd"
	}
	if cfg.Voice == "" {
		cfg.Voice = "nova"
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = "pcm"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./cache/audio"
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 500
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, err
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}, nil
}

// SpeakToFile returns a cached audio file for req, synthesizing it on a miss.
// Concurrent requests for the same audio share one upstream call.
func (c *Client) SpeakToFile(ctx context.Context, req Request) (SpeakResult, error) {
	req = c.normalize(req)
	if req.Text == "" {
		return SpeakResult{}, errors.New("empty tts text")
	}

	key := c.cacheKey(req)
	finalPath := filepath.Join(c.cfg.CacheDir, key+"."+extensionFromFormat(c.cfg.ResponseFormat))

	if fileExists(finalPath) {
		return SpeakResult{Path: finalPath, CacheHit: true}, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if fileExists(finalPath) {
			return SpeakResult{Path: finalPath, CacheHit: true}, nil
		}

		audioBytes, err := c.synthesize(ctx, req)
		if err != nil {
			return SpeakResult{}, err
		}

		tmp := fmt.Sprintf("%s.tmp-%d-%d", finalPath, time.Now().UnixNano(), rand.Intn(999999))
		if err := os.WriteFile(tmp, audioBytes, 0o644); err != nil {
			return SpeakResult{}, err
		}
		// atomic replace
		if err := os.Rename(tmp, finalPath); err != nil {
			_ = os.Remove(tmp)
			return SpeakResult{}, err
		}

		c.log.Debug().Str("voice", req.Voice).Int("bytes", len(audioBytes)).Msg("tts cached")
		return SpeakResult{Path: finalPath, CacheHit: false}, nil
	})
	if err != nil {
		return SpeakResult{}, err
	}
	return v.(SpeakResult), nil
}

// Speak is SpeakToFile followed by reading the audio back.
func (c *Client) Speak(ctx context.Context, req Request) ([]byte, SpeakResult, error) {
	res, err := c.SpeakToFile(ctx, req)
	if err != nil {
		return nil, res, err
	}
	b, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, res, fmt.Errorf("read cached audio: %w", err)
	}
	return b, res, nil
}

func (c *Client) normalize(req Request) Request {
	req.Text = strings.TrimSpace(req.Text)
	if len([]rune(req.Text)) > c.cfg.MaxTextChars {
		// hard truncate (safe + predictable)
		r := []rune(req.Text)
		req.Text = string(r[:c.cfg.MaxTextChars])
	}
	req.Voice = strings.TrimSpace(req.Voice)
	if req.Voice == "" {
		req.Voice = c.cfg.Voice
	}
	switch {
	case req.Speed <= 0:
		req.Speed = 1.0
	case req.Speed < 0.25:
		req.Speed = 0.25
	case req.Speed > 4:
		req.Speed = 4
	}
	return req
}

func (c *Client) synthesize(ctx context.Context, req Request) ([]byte, error) {
	endpoint := c.cfg.BaseURL + "/audio/speech"

	payload := map[string]any{
		"model":           c.cfg.Model,
		"voice":           req.Voice,
		"input":           req.Text,
		"response_format": c.cfg.ResponseFormat,
		"speed":           req.Speed,
	}

	b, code, errMsg, err := c.postAudio(ctx, endpoint, payload)
	if err == nil {
		return b, nil
	}

	// Fallback: if API complains about response_format, try format instead
	if code == 400 && strings.Contains(strings.ToLower(errMsg), "response_format") {
		delete(payload, "response_format")
		payload["format"] = c.cfg.ResponseFormat
		b2, _, _, err2 := c.postAudio(ctx, endpoint, payload)
		if err2 == nil {
			return b2, nil
		}
	}

	return nil, err
}

func (c *Client) postAudio(ctx context.Context, url string, payload map[string]any) ([]byte, int, string, error) {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(data) == 0 {
			return nil, resp.StatusCode, "", errors.New("empty audio response")
		}
		return data, resp.StatusCode, "", nil
	}

	// parse OpenAI-style error json if present
	errMsg := strings.TrimSpace(string(data))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil {
		if parsed.Error.Message != "" {
			errMsg = parsed.Error.Message
		}
	}

	return nil, resp.StatusCode, errMsg, fmt.Errorf("openai tts failed: status=%d msg=%s", resp.StatusCode, errMsg)
}

func (c *Client) cacheKey(req Request) string {
	raw := c.cfg.Model + "|" + req.Voice + "|" + c.cfg.ResponseFormat + "|" + fmt.Sprintf("%.3f", req.Speed) + "|" + req.Text
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func extensionFromFormat(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "wav":
		return "wav"
	case "aac":
		return "aac"
	case "opus":
		return "opus"
	case "flac":
		return "flac"
	case "pcm":
		return "pcm"
	default:
		return "mp3"
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !st.IsDir() && st.Size() > 0
}
