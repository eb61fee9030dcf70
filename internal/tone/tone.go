// Package tone renders the short attention chime played before a call.
package tone

import (
	"encoding/binary"
	"math"
	"time"
)

// Tone is a sine burst with a linear attack to Peak*volume followed by an
// exponential decay to Floor, ending at Release.
type Tone struct {
	Frequency float64
	Peak      float64
	Attack    time.Duration
	Release   time.Duration
	Floor     float64
}

// Attention is the fixed cue that precedes every announcement.
var Attention = Tone{
	Frequency: 800,
	Peak:      0.3,
	Attack:    100 * time.Millisecond,
	Release:   500 * time.Millisecond,
	Floor:     0.001,
}

// Envelope returns the gain at offset t for the given volume.
func (tn Tone) Envelope(t time.Duration, volume float64) float64 {
	peak := tn.Peak * clamp01(volume)
	switch {
	case t < 0 || t >= tn.Release || peak <= 0:
		return 0
	case t < tn.Attack:
		return peak * float64(t) / float64(tn.Attack)
	}

	floor := tn.Floor
	if floor <= 0 || floor >= peak {
		// exponential ramp is undefined here; fall back to linear
		frac := float64(t-tn.Attack) / float64(tn.Release-tn.Attack)
		return peak * (1 - frac)
	}
	frac := float64(t-tn.Attack) / float64(tn.Release-tn.Attack)
	return peak * math.Pow(floor/peak, frac)
}

// Render produces signed 16-bit little-endian mono PCM.
func (tn Tone) Render(sampleRate int, volume float64) []byte {
	if sampleRate <= 0 || tn.Release <= 0 {
		return nil
	}
	n := int(int64(tn.Release) * int64(sampleRate) / int64(time.Second))
	out := make([]byte, n*2)
	step := 2 * math.Pi * tn.Frequency / float64(sampleRate)
	for i := 0; i < n; i++ {
		t := time.Duration(int64(i) * int64(time.Second) / int64(sampleRate))
		v := tn.Envelope(t, volume) * math.Sin(step*float64(i))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
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
