package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := New(8)

	tests := []struct {
		name     string
		text     string
		wantCode string
		wantOK   bool
	}{
		{"english", "what are the best hiking boots for wet weather", "en", true},
		{"german", "welche Wanderschuhe sind bei nassem Wetter am besten geeignet", "de", true},
		{"french", "quelles sont les meilleures chaussures de randonnée pour la pluie", "fr", true},
		{"too short", "ok 2024", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, ok := d.Detect(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, lang.Code)
		})
	}
}

func TestLetterCount(t *testing.T) {
	assert.Equal(t, 0, letterCount("  123 !? "))
	assert.Equal(t, 5, letterCount("hello"))
	assert.Equal(t, 7, letterCount("boots 2024 ok!"))
}
