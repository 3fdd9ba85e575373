package admission

import (
	"regexp"
	"strings"
)

// wordList matches text against a set of case-insensitive word patterns.
// A `*` in a pattern matches any run of non-space characters; pattern edges
// without a wildcard are anchored on word boundaries so "ass" does not fire
// inside "class".
type wordList struct {
	res []*regexp.Regexp
}

func compilePatterns(patterns []string) wordList {
	var w wordList
	for _, p := range patterns {
		re, ok := compilePattern(p)
		if ok {
			w.res = append(w.res, re)
		}
	}
	return w
}

func compilePattern(pattern string) (*regexp.Regexp, bool) {
	pattern = strings.TrimSpace(pattern)
	if strings.Trim(pattern, "*") == "" {
		return nil, false
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := strings.Join(parts, `\S*`)
	if !strings.HasPrefix(pattern, "*") {
		expr = `\b` + expr
	}
	if !strings.HasSuffix(pattern, "*") {
		expr += `\b`
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return nil, false
	}
	return re, true
}

// Match returns the first matching lexeme in text.
func (w wordList) Match(text string) (string, bool) {
	for _, re := range w.res {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

// Mask rewrites every match to a same-length run of asterisks and reports
// how many spans were rewritten.
func (w wordList) Mask(text string) (string, int) {
	n := 0
	for _, re := range w.res {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			n++
			return strings.Repeat("*", len([]rune(m)))
		})
	}
	return text, n
}

func (w wordList) Empty() bool { return len(w.res) == 0 }
