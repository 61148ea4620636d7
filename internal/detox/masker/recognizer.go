package masker

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
	"gopkg.in/yaml.v3"
)

// Span is a recognized entity with byte offsets into the scanned text.
type Span struct {
	Text  string
	Label string
	Start int
	End   int
}

// Recognizer finds named entities in text.
type Recognizer interface {
	Name() string
	Recognize(text string) ([]Span, error)
}

// ProseRecognizer wraps the prose statistical tagger. prose reports entity
// text without positions, so spans are located by scanning forward from the
// end of the previous match.
type ProseRecognizer struct{}

func NewProseRecognizer() *ProseRecognizer { return &ProseRecognizer{} }

func (p *ProseRecognizer) Name() string { return "prose" }

func (p *ProseRecognizer) Recognize(text string) ([]Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose document: %w", err)
	}
	var out []Span
	cursor := 0
	for _, ent := range doc.Entities() {
		surface := strings.TrimSpace(ent.Text)
		if surface == "" {
			continue
		}
		idx := strings.Index(text[cursor:], surface)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(surface)
		out = append(out, Span{Text: surface, Label: normalizeLabel(ent.Label), Start: start, End: end})
		cursor = end
	}
	return out, nil
}

// Gazetteer matches a fixed list of names per label. Matches are case
// sensitive and must sit on word boundaries.
type Gazetteer struct {
	entries []gazetteerEntry
}

type gazetteerEntry struct {
	name  string
	label string
}

// NewGazetteer builds a gazetteer from label -> names. Longer names are tried
// first so "New York Times" wins over "New York".
func NewGazetteer(names map[string][]string) *Gazetteer {
	g := &Gazetteer{}
	for label, list := range names {
		label = normalizeLabel(label)
		for _, n := range list {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			g.entries = append(g.entries, gazetteerEntry{name: n, label: label})
		}
	}
	sort.SliceStable(g.entries, func(i, j int) bool {
		if len(g.entries[i].name) != len(g.entries[j].name) {
			return len(g.entries[i].name) > len(g.entries[j].name)
		}
		return g.entries[i].name < g.entries[j].name
	})
	return g
}

// LoadGazetteer reads a YAML mapping of label to names:
//
//	ORG:
//	  - Acme Corp
//	EVENT:
//	  - World Cup
func LoadGazetteer(path string) (*Gazetteer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	var names map[string][]string
	if err := yaml.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("parse gazetteer %s: %w", path, err)
	}
	return NewGazetteer(names), nil
}

func (g *Gazetteer) Name() string { return "gazetteer" }

func (g *Gazetteer) Recognize(text string) ([]Span, error) {
	if g == nil || len(g.entries) == 0 {
		return nil, nil
	}
	var out []Span
	for _, e := range g.entries {
		from := 0
		for from < len(text) {
			idx := strings.Index(text[from:], e.name)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(e.name)
			if atWordBoundary(text, start, end) {
				out = append(out, Span{Text: e.name, Label: e.label, Start: start, End: end})
			}
			from = end
		}
	}
	return out, nil
}

func atWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func normalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
