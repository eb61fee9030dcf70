package tone

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"queuecaller/internal/audio"
)

// Player plays tones without waiting for them to finish.
type Player struct {
	out *audio.Output
	log zerolog.Logger
}

func NewPlayer(out *audio.Output, log zerolog.Logger) *Player {
	return &Player{out: out, log: log}
}

// Play starts tn at volume. Playback is fire-and-forget; the player is
// released once the buffer drains.
func (p *Player) Play(tn Tone, volume float64) error {
	if p == nil || p.out == nil {
		return errors.New("no audio output")
	}
	// gain is baked into the samples, so the device plays at unity
	pb, err := p.out.Start(tn.Render(p.out.SampleRate(), volume), 1)
	if err != nil {
		return err
	}
	go func() {
		if err := pb.Wait(context.Background()); err != nil {
			p.log.Debug().Err(err).Msg("tone playback ended with error")
		}
		_ = pb.Stop()
	}()
	return nil
}
