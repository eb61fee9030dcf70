// Package speech defines the text-to-speech capability the caller drives.
package speech

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"
)

// ErrCanceled is returned by Speak when Cancel interrupted the utterance.
var ErrCanceled = errors.New("utterance canceled")

type Voice struct {
	Name   string
	Lang   string
	Gender string
}

type Utterance struct {
	Text   string
	Lang   string
	Rate   float64
	Pitch  float64
	Volume float64
	Voice  *Voice

	// OnStart runs once, when audio output begins.
	OnStart func()
}

// Engine speaks one utterance at a time per call. Speak blocks until the
// utterance ends, fails, is canceled, or ctx is done.
type Engine interface {
	Speak(ctx context.Context, u Utterance) error
	Cancel()
	Voices() []Voice
}

var femaleHints = []string{"female", "wanita", "perempuan"}

// PickVoice prefers a female voice for locale, then any voice for locale.
func PickVoice(voices []Voice, locale string) *Voice {
	want, err := language.Parse(locale)
	if err != nil {
		return nil
	}
	wantBase, _ := want.Base()

	var fallback *Voice
	for i := range voices {
		v := &voices[i]
		tag, err := language.Parse(v.Lang)
		if err != nil {
			continue
		}
		if base, _ := tag.Base(); base != wantBase {
			continue
		}
		if isFemale(*v) {
			return v
		}
		if fallback == nil {
			fallback = v
		}
	}
	return fallback
}

func isFemale(v Voice) bool {
	if strings.EqualFold(v.Gender, "female") {
		return true
	}
	name := strings.ToLower(v.Name)
	for _, h := range femaleHints {
		if strings.Contains(name, h) {
			return true
		}
	}
	return false
}
