package caller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"queuecaller/internal/speech"
	"queuecaller/internal/tone"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	sets int
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *memStore) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// phaseLog records the order and start time of announcement phases.
type phaseLog struct {
	mu     sync.Mutex
	phases []string
	times  []time.Time
}

func (p *phaseLog) add(name string) {
	p.mu.Lock()
	p.phases = append(p.phases, name)
	p.times = append(p.times, time.Now())
	p.mu.Unlock()
}

func (p *phaseLog) snapshot() ([]string, []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.phases...), append([]time.Time(nil), p.times...)
}

type fakeTone struct {
	log    *phaseLog
	err    error
	panics bool

	mu      sync.Mutex
	volumes []float64
}

func (f *fakeTone) Play(t tone.Tone, volume float64) error {
	if f.log != nil {
		f.log.add("tone")
	}
	f.mu.Lock()
	f.volumes = append(f.volumes, volume)
	f.mu.Unlock()
	if f.panics {
		panic("audio device vanished")
	}
	return f.err
}

// fakeEngine speaks instantly unless block is set, in which case Speak waits
// for Cancel or ctx.
type fakeEngine struct {
	log     *phaseLog
	block   bool
	err     error
	voices  []speech.Voice
	started chan struct{}

	mu      sync.Mutex
	pending []chan struct{}
	spoken  []speech.Utterance
	cancels int
}

func (f *fakeEngine) Speak(ctx context.Context, u speech.Utterance) error {
	if f.log != nil {
		f.log.add("speech")
	}
	done := make(chan struct{})
	f.mu.Lock()
	f.spoken = append(f.spoken, u)
	if f.block {
		f.pending = append(f.pending, done)
	}
	f.mu.Unlock()

	if u.OnStart != nil {
		u.OnStart()
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if !f.block {
		return f.err
	}
	select {
	case <-done:
		return speech.ErrCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEngine) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	for _, ch := range f.pending {
		close(ch)
	}
	f.pending = nil
}

func (f *fakeEngine) Voices() []speech.Voice { return f.voices }

func (f *fakeEngine) utterances() []speech.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]speech.Utterance(nil), f.spoken...)
}

// synthEngine fetches audio for synth before calling OnStart, then plays for
// play. Both stages end early on Cancel or ctx.
type synthEngine struct {
	synth, play time.Duration
	fetching    chan struct{}

	mu      sync.Mutex
	stop    chan struct{}
	playing int
	maxPlay int
	played  int
	cancels int
}

func newSynthEngine(synth, play time.Duration) *synthEngine {
	return &synthEngine{synth: synth, play: play, fetching: make(chan struct{}, 4), stop: make(chan struct{})}
}

func (f *synthEngine) Speak(ctx context.Context, u speech.Utterance) error {
	f.mu.Lock()
	stop := f.stop
	f.mu.Unlock()
	f.fetching <- struct{}{}

	wait := func(d time.Duration) error {
		select {
		case <-time.After(d):
			return nil
		case <-stop:
			return speech.ErrCanceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := wait(f.synth); err != nil {
		return err
	}

	f.mu.Lock()
	f.playing++
	f.maxPlay = max(f.maxPlay, f.playing)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.playing--
		f.mu.Unlock()
	}()
	if u.OnStart != nil {
		u.OnStart()
	}
	if err := wait(f.play); err != nil {
		return err
	}
	f.mu.Lock()
	f.played++
	f.mu.Unlock()
	return nil
}

func (f *synthEngine) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	close(f.stop)
	f.stop = make(chan struct{})
}

func (f *synthEngine) Voices() []speech.Voice { return nil }

func (f *synthEngine) stats() (maxPlay, played, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPlay, f.played, f.cancels
}

type recordedEvents struct {
	mu            sync.Mutex
	notifications []string
	histories     [][]Entry
	states        []Snapshot
}

func (r *recordedEvents) Notify(text string, _ time.Duration) {
	r.mu.Lock()
	r.notifications = append(r.notifications, text)
	r.mu.Unlock()
}

func (r *recordedEvents) HistoryChanged(entries []Entry) {
	r.mu.Lock()
	r.histories = append(r.histories, entries)
	r.mu.Unlock()
}

func (r *recordedEvents) StateChanged(s Snapshot) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recordedEvents) notes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notifications...)
}

func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestSequencer(t *testing.T, deps Deps) *Sequencer {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newMemStore()
	}
	if deps.After == nil {
		deps.After = instantAfter
	}
	if deps.Now == nil {
		deps.Now = fixedClock()
	}
	s, err := New(context.Background(), Config{Locale: "en-US", Rate: 0.9, Pitch: 1.2}, deps, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance to start")
	}
}

var errBoom = errors.New("boom")
