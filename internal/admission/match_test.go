package admission

import "testing"

func TestWordListMatch(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		text     string
		want     bool
	}{
		{"plain word", []string{"swear"}, "do not swear here", true},
		{"case insensitive", []string{"swear"}, "SWEAR", true},
		{"word boundary holds", []string{"ass"}, "attend the class", false},
		{"trailing wildcard", []string{"swear*"}, "swearing again", true},
		{"leading wildcard", []string{"*word"}, "crossword", true},
		{"inner wildcard", []string{"s*r"}, "he said szzzr loudly", true},
		{"no match", []string{"swear"}, "perfectly fine", false},
		{"empty pattern skipped", []string{"", "  ", "ok"}, "all ok", true},
		{"wildcard only skipped", []string{"*", "**"}, "anything", false},
		{"regex metachars literal", []string{"a.b"}, "match axb never", false},
		{"regex metachars exact", []string{"a.b"}, "literal a.b here", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := compilePatterns(tt.patterns)
			_, got := w.Match(tt.text)
			if got != tt.want {
				t.Errorf("Match(%q) with %v = %v, want %v", tt.text, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestWordListMask(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		text     string
		want     string
		spans    int
	}{
		{"single", []string{"heck"}, "what the heck", "what the ****", 1},
		{"repeated", []string{"heck"}, "heck heck", "**** ****", 2},
		{"wildcard run", []string{"heck*"}, "heckin long", "****** long", 1},
		{"untouched", []string{"heck"}, "all good", "all good", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := compilePatterns(tt.patterns)
			got, spans := w.Mask(tt.text)
			if got != tt.want || spans != tt.spans {
				t.Errorf("Mask(%q) = (%q, %d), want (%q, %d)", tt.text, got, spans, tt.want, tt.spans)
			}
		})
	}
}
