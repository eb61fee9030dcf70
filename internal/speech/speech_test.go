package speech

import "testing"

func TestPickVoice(t *testing.T) {
	voices := []Voice{
		{Name: "onyx", Lang: "en-US", Gender: "male"},
		{Name: "Andika", Lang: "id-ID"},
		{Name: "Google Bahasa Indonesia Wanita", Lang: "id_ID"},
		{Name: "nova", Lang: "en-GB", Gender: "female"},
	}

	tests := []struct {
		locale string
		want   string
	}{
		{locale: "en-US", want: "nova"},
		{locale: "id-ID", want: "Google Bahasa Indonesia Wanita"},
		{locale: "id", want: "Google Bahasa Indonesia Wanita"},
		{locale: "fr-FR", want: ""},
		{locale: "not a locale", want: ""},
	}
	for _, tt := range tests {
		got := PickVoice(voices, tt.locale)
		name := ""
		if got != nil {
			name = got.Name
		}
		if name != tt.want {
			t.Errorf("PickVoice(%q) = %q, want %q", tt.locale, name, tt.want)
		}
	}
}

func TestPickVoiceFallsBackToLanguageMatch(t *testing.T) {
	voices := []Voice{
		{Name: "Andika", Lang: "id-ID"},
		{Name: "Gadis", Lang: "id-ID"},
	}
	got := PickVoice(voices, "id-ID")
	if got == nil || got.Name != "Andika" {
		t.Errorf("got %+v, want first id voice", got)
	}
}
