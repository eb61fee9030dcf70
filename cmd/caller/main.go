package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"queuecaller/internal/audio"
	"queuecaller/internal/caller"
	"queuecaller/internal/config"
	"queuecaller/internal/server"
	"queuecaller/internal/speech"
	"queuecaller/internal/store"
	"queuecaller/internal/tone"
	"queuecaller/internal/tts"
)

func main() {
	var cfgPath string

	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config YAML")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Caller.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger

	// Context / shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open store")
	}
	defer st.Close()

	srv := server.New(server.Config{
		Bind:              cfg.Server.Bind,
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.ToDuration(),
	}, log.Logger.With().Str("component", "server").Logger())

	// Speakers. Without them the tone is skipped and speech is disabled.
	var out *audio.Output
	if cfg.Audio.Enabled {
		out, err = audio.New(cfg.Audio.SampleRate, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("audio output unavailable")
			out = nil
		}
	}

	var tonePlayer caller.TonePlayer
	if out != nil {
		tonePlayer = tone.NewPlayer(out, log.Logger.With().Str("component", "tone").Logger())
	}

	var engine speech.Engine
	if eng := newSpeechEngine(ctx, cfg, out); eng != nil {
		engine = eng
	}

	seq, err := caller.New(ctx, caller.Config{
		Locale:          cfg.Caller.Locale,
		Rate:            cfg.Caller.SpeechRate,
		Pitch:           cfg.Caller.SpeechPitch,
		NotifyTTL:       cfg.Caller.NotifyTTL.ToDuration(),
		HistoryLimit:    cfg.Caller.HistoryLimit,
		TimestampLayout: cfg.Caller.TimestampLayout,
		Phrases:         cfg.Caller.Phrases,
	}, caller.Deps{
		Store:  st,
		Tone:   tonePlayer,
		Speech: engine,
		Events: srv,
	}, log.Logger.With().Str("component", "caller").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init caller")
	}
	srv.SetCaller(seq)

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("http server stopped with error")
			cancel()
		}
	}()

	log.Info().
		Str("addr", srv.Addr()).
		Bool("speech", seq.Available()).
		Str("store", st.Path()).
		Msg("running. Open the control panel in your browser")

	<-ctx.Done()
	seq.Stop()
	log.Info().Msg("shutting down")
}

// newSpeechEngine returns nil when speech cannot work on this machine.
func newSpeechEngine(ctx context.Context, cfg config.Config, out *audio.Output) *speech.OpenAIEngine {
	if out == nil {
		log.Warn().Msg("no audio output; speech disabled")
		return nil
	}
	if out.SampleRate() != 24000 {
		log.Warn().Int("sample_rate", out.SampleRate()).Msg("OpenAI pcm audio is 24000 Hz; speech will play at the wrong speed")
	}

	key := strings.TrimSpace(os.Getenv(cfg.OpenAI.APIKeyEnv))
	if key == "" {
		log.Warn().Str("env", cfg.OpenAI.APIKeyEnv).Msg("missing OpenAI API key env var; speech disabled")
		return nil
	}

	voices := make([]speech.Voice, 0, len(cfg.OpenAI.Voices))
	for _, v := range cfg.OpenAI.Voices {
		voices = append(voices, speech.Voice{Name: v.Name, Lang: v.Lang, Gender: v.Gender})
	}
	defaultVoice := ""
	if v := speech.PickVoice(voices, cfg.Caller.Locale); v != nil {
		defaultVoice = v.Name
	}

	client, err := tts.NewClient(tts.Config{
		APIKey:         key,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		Voice:          defaultVoice,
		ResponseFormat: "pcm",
		Timeout:        cfg.OpenAI.Timeout.ToDuration(),
		CacheDir:       cfg.Cache.AudioDir,
		MaxTextChars:   cfg.OpenAI.MaxTextChars,
	}, log.Logger.With().Str("component", "tts").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to init TTS client; speech disabled")
		return nil
	}

	// Pre-generate the test phrase so the first sound check plays at once.
	{
		req := tts.Request{Text: cfg.Caller.Phrases.Test, Voice: defaultVoice, Speed: cfg.Caller.SpeechRate}
		cctx, ccancel := context.WithTimeout(ctx, cfg.OpenAI.Timeout.ToDuration())
		res, err := client.SpeakToFile(cctx, req)
		ccancel()
		if err != nil {
			log.Error().Err(err).Msg("failed to pre-generate test phrase")
		} else {
			log.Debug().Bool("cache_hit", res.CacheHit).Msg("test phrase ready")
		}
	}

	return speech.NewOpenAIEngine(client, out, voices, log.Logger.With().Str("component", "speech").Logger())
}
