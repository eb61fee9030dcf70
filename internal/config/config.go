package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Duration time.Duration

func (d Duration) ToDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*d = 0
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}

	// allow: "600ms", "3s", or integer milliseconds
	switch value.Tag {
	case "!!int":
		i, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Millisecond)
		return nil
	case "!!str":
		if value.Value == "" {
			*d = 0
			return nil
		}
		if dur, err := time.ParseDuration(value.Value); err == nil {
			*d = Duration(dur)
			return nil
		}
		if i, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
			*d = Duration(time.Duration(i) * time.Millisecond)
			return nil
		}
		return fmt.Errorf("invalid duration: %q", value.Value)
	default:
		if dur, err := time.ParseDuration(value.Value); err == nil {
			*d = Duration(dur)
			return nil
		}
		return fmt.Errorf("invalid duration: %q", value.Value)
	}
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Cache  CacheConfig  `yaml:"cache"`
	Store  StoreConfig  `yaml:"store"`
	Audio  AudioConfig  `yaml:"audio"`
	Caller CallerConfig `yaml:"caller"`
}

type ServerConfig struct {
	Bind              string   `yaml:"bind"`
	Port              int      `yaml:"port"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
}

type OpenAIConfig struct {
	APIKeyEnv    string   `yaml:"api_key_env"`
	BaseURL      string   `yaml:"base_url"` // default https://api.openai.com/v1
	Model        string   `yaml:"model"`    // tts-1-hd, tts-1, gpt-4o-mini-tts, etc
	Timeout      Duration `yaml:"timeout"`
	MaxTextChars int      `yaml:"max_text_chars"`
	Voices       []Voice  `yaml:"voices"`
}

// Voice describes one backend voice and the locale it should be used for.
type Voice struct {
	Name   string `yaml:"name"`
	Lang   string `yaml:"lang"`
	Gender string `yaml:"gender,omitempty"`
}

type CacheConfig struct {
	AudioDir string `yaml:"audio_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type AudioConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleRate int  `yaml:"sample_rate"` // must match the pcm rate of the speech backend
}

// MaxHistoryLimit caps history_limit; the call log never keeps more entries.
const MaxHistoryLimit = 50

type CallerConfig struct {
	LogLevel        string   `yaml:"log_level"`
	Locale          string   `yaml:"locale"`
	SpeechRate      float64  `yaml:"speech_rate"`
	SpeechPitch     float64  `yaml:"speech_pitch"`
	NotifyTTL       Duration `yaml:"notify_ttl"`
	HistoryLimit    int      `yaml:"history_limit"`
	TimestampLayout string   `yaml:"timestamp_layout"`
	Phrases         Phrases  `yaml:"phrases"`
}

// Phrases holds the spoken and displayed text templates. Placeholders:
// {number} (queue number), {digits} (spaced digits), {operator} (operator label).
type Phrases struct {
	Announce          string `yaml:"announce"`
	Calling           string `yaml:"calling"`
	Test              string `yaml:"test"`
	Testing           string `yaml:"testing"`
	Stopped           string `yaml:"stopped"`
	HistoryCleared    string `yaml:"history_cleared"`
	SpeechUnavailable string `yaml:"speech_unavailable"`
}

func DefaultPhrases() Phrases {
	return Phrases{
		Announce:          "Queue number {digits}, please proceed to {operator}. Thank you.",
		Calling:           "Calling queue {number} to {operator}",
		Test:              "This is a sound test of the queue calling system. The sound system is working properly.",
		Testing:           "Testing sound...",
		Stopped:           "Sound stopped",
		HistoryCleared:    "Call history cleared",
		SpeechUnavailable: "Speech is not supported on this system",
	}
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:              "127.0.0.1",
			Port:              8092,
			ReadHeaderTimeout: Duration(5 * time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv:    "OPENAI_API_KEY",
			BaseURL:      "https://api.openai.com/v1",
			Model:        "tts-1-hd",
			Timeout:      Duration(30 * time.Second),
			MaxTextChars: 500,
			Voices: []Voice{
				{Name: "nova", Lang: "en-US", Gender: "female"},
				{Name: "shimmer", Lang: "en-US", Gender: "female"},
				{Name: "alloy", Lang: "en-US"},
				{Name: "onyx", Lang: "en-US", Gender: "male"},
			},
		},
		Cache: CacheConfig{
			AudioDir: "./cache/audio",
		},
		Store: StoreConfig{
			Path: "./data/caller.db",
		},
		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: 24000,
		},
		Caller: CallerConfig{
			LogLevel:        "info",
			Locale:          "en-US",
			SpeechRate:      0.9,
			SpeechPitch:     1.2,
			NotifyTTL:       Duration(3 * time.Second),
			HistoryLimit:    MaxHistoryLimit,
			TimestampLayout: "15:04:05",
			Phrases:         DefaultPhrases(),
		},
	}
}

// Load reads path over Default(). A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.sanitize()
	return cfg, nil
}

func (cfg *Config) sanitize() {
	def := Default()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = def.Server.Bind
	}
	if cfg.Server.ReadHeaderTimeout.ToDuration() <= 0 {
		cfg.Server.ReadHeaderTimeout = def.Server.ReadHeaderTimeout
	}

	if cfg.OpenAI.APIKeyEnv == "" {
		cfg.OpenAI.APIKeyEnv = def.OpenAI.APIKeyEnv
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = def.OpenAI.BaseURL
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = def.OpenAI.Model
	}
	if cfg.OpenAI.Timeout.ToDuration() <= 0 {
		cfg.OpenAI.Timeout = def.OpenAI.Timeout
	}
	if cfg.OpenAI.MaxTextChars <= 0 {
		cfg.OpenAI.MaxTextChars = def.OpenAI.MaxTextChars
	}
	voices := cfg.OpenAI.Voices[:0]
	for _, v := range cfg.OpenAI.Voices {
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			continue
		}
		voices = append(voices, v)
	}
	cfg.OpenAI.Voices = voices
	if len(cfg.OpenAI.Voices) == 0 {
		cfg.OpenAI.Voices = def.OpenAI.Voices
	}

	if cfg.Cache.AudioDir == "" {
		cfg.Cache.AudioDir = def.Cache.AudioDir
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}

	c := &cfg.Caller
	if c.LogLevel == "" {
		c.LogLevel = def.Caller.LogLevel
	}
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = def.Caller.Locale
	}
	if c.SpeechRate <= 0 {
		c.SpeechRate = def.Caller.SpeechRate
	}
	if c.SpeechPitch <= 0 {
		c.SpeechPitch = def.Caller.SpeechPitch
	}
	if c.NotifyTTL.ToDuration() <= 0 {
		c.NotifyTTL = def.Caller.NotifyTTL
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > MaxHistoryLimit {
		c.HistoryLimit = MaxHistoryLimit
	}
	if c.TimestampLayout == "" {
		c.TimestampLayout = def.Caller.TimestampLayout
	}

	// fill individual phrases so a partial override keeps the rest
	p, dp := &c.Phrases, def.Caller.Phrases
	fill := func(s *string, d string) {
		if strings.TrimSpace(*s) == "" {
			*s = d
		}
	}
	fill(&p.Announce, dp.Announce)
	fill(&p.Calling, dp.Calling)
	fill(&p.Test, dp.Test)
	fill(&p.Testing, dp.Testing)
	fill(&p.Stopped, dp.Stopped)
	fill(&p.HistoryCleared, dp.HistoryCleared)
	fill(&p.SpeechUnavailable, dp.SpeechUnavailable)
}
