// Package fence pulls fenced code blocks out of LLM replies.
package fence

import (
	"regexp"
	"sync"
)

var (
	mu       sync.Mutex
	patterns = map[string]*regexp.Regexp{}
)

func pattern(lang string) *regexp.Regexp {
	mu.Lock()
	defer mu.Unlock()
	re, ok := patterns[lang]
	if !ok {
		re = regexp.MustCompile("(?s)```" + regexp.QuoteMeta(lang) + `\s*(.*?)\s*` + "```")
		patterns[lang] = re
	}
	return re
}

// Extract returns the body of the first ```lang block in text.
func Extract(text, lang string) (string, bool) {
	m := pattern(lang).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractOr returns the first ```lang block, or the whole text when there is none.
func ExtractOr(text, lang string) string {
	if body, ok := Extract(text, lang); ok {
		return body
	}
	return text
}
