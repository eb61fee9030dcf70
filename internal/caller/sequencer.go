// Package caller sequences queue call announcements: history first, then the
// attention tone, then the spoken call, then the queue advances.
package caller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"queuecaller/internal/config"
	"queuecaller/internal/speech"
	"queuecaller/internal/tone"
)

// ErrSpeechUnavailable is returned by the calling entry points when the
// process started without a speech engine.
var ErrSpeechUnavailable = errors.New("speech synthesis unavailable")

// ToneWindow is how long the attention tone is given before speech starts.
const ToneWindow = 600 * time.Millisecond

type TonePlayer interface {
	Play(t tone.Tone, volume float64) error
}

// Events receives presentation-layer updates. Implementations must not call
// back into the Sequencer synchronously.
type Events interface {
	Notify(text string, ttl time.Duration)
	HistoryChanged(entries []Entry)
	StateChanged(s Snapshot)
}

type Config struct {
	Locale          string
	Rate            float64
	Pitch           float64
	NotifyTTL       time.Duration
	HistoryLimit    int
	TimestampLayout string
	Phrases         config.Phrases
}

type Deps struct {
	Store  Storage
	Tone   TonePlayer    // optional; a missing player still waits the tone window
	Speech speech.Engine // nil disables Announce and TestSound
	Events Events

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

type Sequencer struct {
	cfg    Config
	store  Storage
	tone   TonePlayer
	speech speech.Engine
	events Events
	log    zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    State
	volume   float64
	history  *History
	speaking bool
	gen      uint64                        // bumped for every utterance
	active   map[uint64]context.CancelFunc // utterances handed to the engine, by gen
	calling  int
}

// New builds the sequencer from persisted volume and history. Storage read
// failures are logged and the defaults used.
func New(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) (*Sequencer, error) {
	if deps.Store == nil {
		return nil, errors.New("caller: nil store")
	}
	if cfg.NotifyTTL <= 0 {
		cfg.NotifyTTL = 3 * time.Second
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > MaxHistory {
		cfg.HistoryLimit = MaxHistory
	}
	if cfg.TimestampLayout == "" {
		cfg.TimestampLayout = "15:04:05"
	}
	if cfg.Phrases == (config.Phrases{}) {
		cfg.Phrases = config.DefaultPhrases()
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.After == nil {
		deps.After = time.After
	}

	volume, err := loadVolume(ctx, deps.Store)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load volume; using default")
	}
	entries, err := loadHistory(ctx, deps.Store, cfg.HistoryLimit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load call history; starting empty")
	}

	s := &Sequencer{
		cfg:     cfg,
		store:   deps.Store,
		tone:    deps.Tone,
		speech:  deps.Speech,
		events:  deps.Events,
		log:     log,
		now:     deps.Now,
		after:   deps.After,
		state:   DefaultState(),
		volume:  volume,
		history: NewHistory(cfg.HistoryLimit, entries),
		active:  make(map[uint64]context.CancelFunc),
	}

	if s.speech == nil {
		log.Warn().Msg("no speech engine; calling disabled")
		s.notify(cfg.Phrases.SpeechUnavailable)
	}
	return s, nil
}

// Available reports whether calling is enabled.
func (s *Sequencer) Available() bool { return s.speech != nil }

// Announce calls the current queue number: it records history, plays the
// attention tone, waits the fixed tone window, speaks the call and then
// advances the queue. A failed or canceled utterance still counts as spoken.
// Only cancellation of ctx aborts the sequence, leaving the queue unchanged.
//
// The spoken phase has no timeout: an engine that never returns stalls the
// call.
func (s *Sequencer) Announce(ctx context.Context) error {
	if s.speech == nil {
		return ErrSpeechUnavailable
	}
	log := s.log.With().Str("call_id", uuid.NewString()).Logger()

	s.mu.Lock()
	req := Request{
		QueueNumber:   FormatQueueNumber(s.state.Queue),
		OperatorLabel: OperatorLabel(s.state.Operator),
		Volume:        s.volume,
	}
	s.history.Push(Entry{
		Timestamp:   s.now().Format(s.cfg.TimestampLayout),
		QueueNumber: req.QueueNumber,
		Operator:    req.OperatorLabel,
	})
	s.persistHistory(ctx)
	entries := s.history.Entries()
	s.calling++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.calling--
		s.mu.Unlock()
		s.emitState()
	}()

	s.events.HistoryChanged(entries)
	s.notify(fill(s.cfg.Phrases.Calling, s.vars(req)))
	s.emitState()

	log.Info().
		Str("queue", req.QueueNumber).
		Str("operator", req.OperatorLabel).
		Float64("volume", req.Volume).
		Msg("announcing")

	if err := s.playTone(ctx, req.Volume, log); err != nil {
		return err
	}
	if err := s.speak(ctx, fill(s.cfg.Phrases.Announce, s.vars(req)), req.Volume, log); err != nil {
		return err
	}

	s.Navigate(1)
	log.Debug().Msg("announcement complete")
	return nil
}

// TestSound speaks the test phrase without tone or history.
func (s *Sequencer) TestSound(ctx context.Context) error {
	if s.speech == nil {
		return ErrSpeechUnavailable
	}
	s.mu.Lock()
	volume := s.volume
	s.mu.Unlock()

	s.notify(s.cfg.Phrases.Testing)
	return s.speak(ctx, s.cfg.Phrases.Test, volume, s.log)
}

// Stop cancels the utterance in progress, whether it is still being
// synthesized or already audible. History and queue state are left as they
// are, and a tone already playing runs to its end.
func (s *Sequencer) Stop() bool {
	s.mu.Lock()
	if len(s.active) == 0 {
		s.mu.Unlock()
		return false
	}
	s.cancelActiveLocked()
	s.mu.Unlock()

	s.log.Info().Msg("speech stopped")
	s.notify(s.cfg.Phrases.Stopped)
	s.emitState()
	return true
}

// Navigate moves the queue number by dir, never below 1.
func (s *Sequencer) Navigate(dir int) {
	s.mu.Lock()
	s.state = s.state.Navigate(dir)
	s.mu.Unlock()
	s.emitState()
}

// SetQueue jumps to n; values below 1 select 1.
func (s *Sequencer) SetQueue(n int) {
	s.mu.Lock()
	s.state.Queue = max(1, n)
	s.mu.Unlock()
	s.emitState()
}

// SetOperator selects operator n; values below 1 select 1.
func (s *Sequencer) SetOperator(n int) {
	s.mu.Lock()
	s.state.Operator = max(1, n)
	s.mu.Unlock()
	s.emitState()
}

// SetVolume clamps v to [0,1] and persists it.
func (s *Sequencer) SetVolume(ctx context.Context, v float64) {
	s.mu.Lock()
	s.volume = clamp01(v)
	if err := s.store.Set(ctx, KeyVolume, formatVolume(s.volume)); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist volume")
	}
	s.mu.Unlock()
	s.emitState()
}

// ClearHistory empties the call log. An empty log is left untouched and
// nothing is written.
func (s *Sequencer) ClearHistory(ctx context.Context) bool {
	s.mu.Lock()
	if s.history.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	s.history.Clear()
	s.persistHistory(ctx)
	s.mu.Unlock()

	s.events.HistoryChanged(nil)
	s.notify(s.cfg.Phrases.HistoryCleared)
	return true
}

// History returns the call log, newest first.
func (s *Sequencer) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sequencer) snapshotLocked() Snapshot {
	return Snapshot{
		Queue:           s.state.Queue,
		Operator:        s.state.Operator,
		QueueDisplay:    FormatQueueNumber(s.state.Queue),
		OperatorDisplay: OperatorDisplay(s.state.Operator),
		Volume:          s.volume,
		Speaking:        s.speaking,
		Calling:         s.calling > 0,
		Available:       s.speech != nil,
	}
}

// playTone starts the cue and waits out the fixed tone window. Tone errors,
// including panics from the audio backend, never abort the call.
func (s *Sequencer) playTone(ctx context.Context, volume float64, log zerolog.Logger) error {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Msg("tone playback panicked")
			}
		}()
		if s.tone == nil {
			return
		}
		if err := s.tone.Play(tone.Attention, volume); err != nil {
			log.Warn().Err(err).Msg("tone playback failed")
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.after(ToneWindow):
		return nil
	}
}

// speak cancels any utterance still in progress, then blocks until text has
// been spoken or the engine gave up. An utterance counts as in progress from
// the moment it is handed to the engine, before any audio is heard.
func (s *Sequencer) speak(ctx context.Context, text string, volume float64, log zerolog.Logger) error {
	s.mu.Lock()
	if len(s.active) > 0 {
		s.cancelActiveLocked()
	}
	s.gen++
	gen := s.gen
	uctx, cancel := context.WithCancel(ctx)
	s.active[gen] = cancel
	s.mu.Unlock()
	defer cancel()

	u := speech.Utterance{
		Text:    text,
		Lang:    s.cfg.Locale,
		Rate:    s.cfg.Rate,
		Pitch:   s.cfg.Pitch,
		Volume:  volume,
		Voice:   speech.PickVoice(s.speech.Voices(), s.cfg.Locale),
		OnStart: func() { s.setSpeaking(gen, true) },
	}
	err := s.speech.Speak(uctx, u)
	s.mu.Lock()
	delete(s.active, gen)
	s.mu.Unlock()
	s.setSpeaking(gen, false)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Debug().Err(err).Msg("utterance ended early")
	}
	return nil
}

// cancelActiveLocked interrupts every utterance in progress, including ones
// still being synthesized. The per-utterance context covers engines that have
// not registered the utterance yet. s.mu must be held.
func (s *Sequencer) cancelActiveLocked() {
	s.speech.Cancel()
	for gen, cancel := range s.active {
		cancel()
		delete(s.active, gen)
	}
	s.speaking = false
	s.gen++ // late OnStart callbacks of canceled utterances are ignored
}

// setSpeaking ignores updates from utterances that have been superseded.
func (s *Sequencer) setSpeaking(gen uint64, v bool) {
	s.mu.Lock()
	if s.gen != gen || s.speaking == v {
		s.mu.Unlock()
		return
	}
	s.speaking = v
	s.mu.Unlock()
	s.emitState()
}

// persistHistory must be called with s.mu held.
func (s *Sequencer) persistHistory(ctx context.Context) {
	raw, err := s.history.marshal()
	if err == nil {
		err = s.store.Set(ctx, KeyHistory, raw)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to persist call history")
	}
}

func (s *Sequencer) vars(req Request) map[string]string {
	return map[string]string{
		"number":   req.QueueNumber,
		"digits":   SplitDigits(req.QueueNumber),
		"operator": req.OperatorLabel,
	}
}

func (s *Sequencer) notify(text string) {
	s.events.Notify(text, s.cfg.NotifyTTL)
}

func (s *Sequencer) emitState() {
	s.events.StateChanged(s.Snapshot())
}

type nopEvents struct{}

func (nopEvents) Notify(string, time.Duration) {}
func (nopEvents) HistoryChanged([]Entry)       {}
func (nopEvents) StateChanged(Snapshot)        {}
