// Package detector identifies the natural language of user queries.
package detector

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// Language is a detected language with its ISO 639-1 code and English name.
type Language struct {
	Code string
	Name string
}

// supported covers languages Brave can filter on. Codes Brave spells
// differently are mapped by the search package.
var supported = []lingua.Language{
	lingua.English,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Dutch,
	lingua.Polish,
	lingua.Swedish,
	lingua.Danish,
	lingua.Finnish,
	lingua.Turkish,
	lingua.Russian,
	lingua.Ukrainian,
	lingua.Japanese,
	lingua.Chinese,
	lingua.Korean,
	lingua.Arabic,
	lingua.Hindi,
}

// Detector wraps a lingua detector built on first use; building loads the language models.
type Detector struct {
	once     sync.Once
	detector lingua.LanguageDetector
	minChars int
}

// New returns a detector that ignores inputs shorter than minChars letters.
func New(minChars int) *Detector {
	return &Detector{minChars: minChars}
}

func (d *Detector) build() {
	d.detector = lingua.NewLanguageDetectorBuilder().
		FromLanguages(supported...).
		WithMinimumRelativeDistance(0.1).
		Build()
}

// Detect returns the language of text and whether detection was confident.
func (d *Detector) Detect(text string) (Language, bool) {
	if letterCount(text) < d.minChars {
		return Language{}, false
	}
	d.once.Do(d.build)
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return Language{}, false
	}
	return Language{
		Code: strings.ToLower(lang.IsoCode639_1().String()),
		Name: lang.String(),
	}, true
}

func letterCount(text string) int {
	n := 0
	for _, r := range text {
		if r > ' ' && !strings.ContainsRune("0123456789.,;:!?-_'\"()[]{}", r) {
			n++
		}
	}
	return n
}
