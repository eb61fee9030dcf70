// Package audio owns the process-wide speaker output. oto allows a single
// context per process, so the tone and speech players share one Output.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// Format of every buffer handed to Output: signed 16-bit little endian, mono.
const (
	Channels       = 1
	BytesPerSample = 2
)

var ErrEmpty = errors.New("audio data is empty")

type Output struct {
	ctx        *oto.Context
	sampleRate int
	log        zerolog.Logger
}

// New opens the default output device. It blocks until the device is ready.
func New(sampleRate int, log zerolog.Logger) (*Output, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	return &Output{ctx: ctx, sampleRate: sampleRate, log: log}, nil
}

func (o *Output) SampleRate() int { return o.sampleRate }

// Start begins playback of pcm and returns immediately.
func (o *Output) Start(pcm []byte, volume float64) (*Playback, error) {
	if len(pcm) == 0 {
		return nil, ErrEmpty
	}
	data := pcm // keep the slice referenced for the lifetime of the player
	p := o.ctx.NewPlayer(bytes.NewReader(data))
	if p == nil {
		return nil, errors.New("failed to create oto player")
	}
	p.SetVolume(clamp01(volume))
	p.Play()

	return &Playback{player: p, data: data}, nil
}

// Duration reports how long pcm plays at the output's sample rate.
func (o *Output) Duration(pcm []byte) time.Duration {
	samples := len(pcm) / (BytesPerSample * Channels)
	return time.Duration(samples) * time.Second / time.Duration(o.sampleRate)
}

// Playback is one in-progress buffer.
type Playback struct {
	player *oto.Player
	data   []byte
}

// Wait blocks until the buffer finished playing or ctx is done.
func (p *Playback) Wait(ctx context.Context) error {
	tk := time.NewTicker(20 * time.Millisecond)
	defer tk.Stop()

	for {
		if !p.player.IsPlaying() {
			return p.player.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
		}
	}
}

// Stop halts playback and releases the player.
func (p *Playback) Stop() error {
	p.player.Pause()
	return p.player.Close()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
