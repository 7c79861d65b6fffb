package plan

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Template is a reusable plan outline matched against incoming queries.
type Template struct {
	Name        string   `yaml:"name"`
	Keywords    []string `yaml:"keywords"`
	Description string   `yaml:"description"`
	Template    string   `yaml:"template"`
}

type TemplateStore struct {
	templates []Template
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

func LoadTemplates(path string) (*TemplateStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return ParseTemplates(data)
}

func ParseTemplates(data []byte) (*TemplateStore, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}
	for i, t := range f.Templates {
		if strings.TrimSpace(t.Template) == "" {
			return nil, fmt.Errorf("template %d (%s) has no body", i, t.Name)
		}
	}
	return &TemplateStore{templates: f.Templates}, nil
}

func NewTemplateStore(templates ...Template) *TemplateStore {
	return &TemplateStore{templates: templates}
}

func (s *TemplateStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.templates)
}

// Best returns the template whose name, keywords and description share the
// most tokens with query. Ties and zero scores go to the earliest template.
func (s *TemplateStore) Best(query string) (Template, bool) {
	if s.Len() == 0 {
		return Template{}, false
	}
	q := tokens(query)
	lower := strings.ToLower(query)
	best, bestScore := 0, 0.0
	for i, t := range s.templates {
		score := similarity(q, tokens(t.Name+" "+strings.Join(t.Keywords, " ")+" "+t.Description))
		for _, k := range t.Keywords {
			if k != "" && strings.Contains(lower, strings.ToLower(k)) {
				score += 1
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return s.templates[best], true
}

// similarity is the share of query tokens present in doc.
func similarity(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

// tokens splits text into lower-case words; Han characters count one each.
func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) > 1 {
			out[string(word)] = struct{}{}
		}
		word = word[:0]
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return out
}
