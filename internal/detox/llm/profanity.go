package llm

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	goaway "github.com/TwiN/go-away"
	"gopkg.in/yaml.v3"
)

const (
	ScoreNone    = 0.0
	ScoreClean   = 0.1
	ScoreProfane = 0.8

	DefaultProfanityThreshold = 0.75
)

// Scorer rates how profane a prompt is. The router only compares the score
// with its threshold, so a scorer may be as coarse or as fine as it likes.
type Scorer interface {
	Score(text string) float64
}

// baseProfaneWords extends the go-away dictionary with mild words it leaves
// out, and seeds the masked-word lookup.
var baseProfaneWords = []string{
	"ass", "bastard", "bitch", "bullshit", "crap", "damn", "fuck", "fucked",
	"fucker", "fucking", "goddamn", "motherfucker", "piss", "prick", "shit",
	"shitty", "wanker",
}

// promptFalsePositives covers words of the analysis and caption prompts that
// contain a dictionary entry.
var promptFalsePositives = []string{"analy", "assess", "assist", "classic", "sensational"}

// ProfanityScorer returns ScoreProfane when go-away flags a token or a token
// masks a dictionary word ("f***ing", "sh*t"), ScoreClean otherwise. Tokens
// are checked one at a time so matches never span a word boundary. Blank text
// scores ScoreNone.
type ProfanityScorer struct {
	detector *goaway.ProfanityDetector
	byLen    map[int][]string
}

// NewProfanityScorer builds a scorer over go-away's default dictionary plus
// extra.
func NewProfanityScorer(extra []string) *ProfanityScorer {
	seen := map[string]struct{}{}
	var words []string
	for _, list := range [][]string{goaway.DefaultProfanities, baseProfaneWords, extra} {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
		}
	}
	s := &ProfanityScorer{
		detector: goaway.NewProfanityDetector().
			WithCustomDictionary(words, append(promptFalsePositives, goaway.DefaultFalsePositives...), goaway.DefaultFalseNegatives),
		byLen: map[int][]string{},
	}
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		s.byLen[n] = append(s.byLen[n], w)
	}
	return s
}

type wordListFile struct {
	Words []string `yaml:"words"`
}

// LoadProfanityScorer reads extra words from a YAML file of the form
// `words: [a, b]`.
func LoadProfanityScorer(path string) (*ProfanityScorer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profanity words: %w", err)
	}
	var f wordListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse profanity words %s: %w", path, err)
	}
	if len(f.Words) == 0 {
		return nil, fmt.Errorf("profanity words %s: empty list", path)
	}
	return NewProfanityScorer(f.Words), nil
}

func (s *ProfanityScorer) Score(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ScoreNone
	}
	for _, f := range fields {
		tok := strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && r != '*'
		}))
		if tok == "" {
			continue
		}
		if strings.Contains(tok, "*") {
			if s.masksWord(tok) {
				return ScoreProfane
			}
			continue
		}
		if s.detector.IsProfane(tok) {
			return ScoreProfane
		}
	}
	return ScoreClean
}

// masksWord reports whether tok is a dictionary word with some letters
// replaced by '*': same length, at least one letter kept, and every kept
// letter in place.
func (s *ProfanityScorer) masksWord(tok string) bool {
	pattern := []rune(tok)
	letters := 0
	for _, r := range pattern {
		switch {
		case r == '*':
		case unicode.IsLetter(r):
			letters++
		default:
			return false
		}
	}
	if letters == 0 || letters == len(pattern) {
		return false
	}
	for _, w := range s.byLen[len(pattern)] {
		if wildcardMatch(pattern, []rune(w)) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, word []rune) bool {
	for i, r := range pattern {
		if r != '*' && r != word[i] {
			return false
		}
	}
	return true
}
