package speech

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"queuecaller/internal/audio"
	"queuecaller/internal/tts"
)

// OpenAIEngine synthesizes raw PCM through the cached OpenAI client and plays
// it on the shared audio output. Pitch is not supported by the backend.
type OpenAIEngine struct {
	client *tts.Client
	out    *audio.Output
	voices []Voice
	log    zerolog.Logger

	mu     sync.Mutex
	active map[uint64]context.CancelFunc
	nextID uint64
}

func NewOpenAIEngine(client *tts.Client, out *audio.Output, voices []Voice, log zerolog.Logger) *OpenAIEngine {
	return &OpenAIEngine{
		client: client,
		out:    out,
		voices: append([]Voice(nil), voices...),
		log:    log,
		active: make(map[uint64]context.CancelFunc),
	}
}

func (e *OpenAIEngine) Voices() []Voice {
	return append([]Voice(nil), e.voices...)
}

// Cancel interrupts every utterance currently synthesizing or playing.
func (e *OpenAIEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.active {
		cancel()
		delete(e.active, id)
	}
}

func (e *OpenAIEngine) Speak(ctx context.Context, u Utterance) error {
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := e.register(cancel)
	defer e.unregister(id)

	req := tts.Request{Text: u.Text, Speed: u.Rate}
	if u.Voice != nil {
		req.Voice = u.Voice.Name
	}
	pcm, res, err := e.client.Speak(uctx, req)
	if err != nil {
		return e.outcome(ctx, uctx, err)
	}

	pb, err := e.out.Start(pcm, u.Volume)
	if err != nil {
		return err
	}
	defer pb.Stop()

	e.log.Debug().
		Str("voice", req.Voice).
		Bool("cache_hit", res.CacheHit).
		Dur("length", e.out.Duration(pcm)).
		Msg("speaking")
	if u.OnStart != nil {
		u.OnStart()
	}

	return e.outcome(ctx, uctx, pb.Wait(uctx))
}

// outcome maps a cancellation by Cancel (not by the caller) to ErrCanceled.
func (e *OpenAIEngine) outcome(parent, uctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if uctx.Err() != nil && parent.Err() == nil && errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	return err
}

func (e *OpenAIEngine) register(cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.active[e.nextID] = cancel
	return e.nextID
}

func (e *OpenAIEngine) unregister(id uint64) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}
