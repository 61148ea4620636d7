package masker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

// DefaultEntityTypes are the categories masked when none are configured.
var DefaultEntityTypes = []string{"PERSON", "ORG", "GPE", "LOC", "PRODUCT", "EVENT", "WORK_OF_ART"}

var placeholderRE = regexp.MustCompile(`\[[A-Z][A-Z_]*_[0-9]+\]`)

type Masker struct {
	log         *logger.Logger
	recognizers []Recognizer
	allowed     map[string]bool
}

func New(log *logger.Logger, entityTypes []string, recognizers ...Recognizer) *Masker {
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	allowed := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		if t = normalizeLabel(t); t != "" {
			allowed[t] = true
		}
	}
	return &Masker{
		log:         log.With("component", "EntityMasker"),
		recognizers: recognizers,
		allowed:     allowed,
	}
}

// Mask replaces every allowed entity with a [LABEL_n] placeholder. Entities
// are substituted right to left and n counts substitutions, so the rightmost
// entity is 1. Offsets in the returned entities refer to text, not to the
// masked output. A recognizer error drops that recognizer's spans only.
func (m *Masker) Mask(text string) (string, []detox.Entity) {
	entities := []detox.Entity{}
	if strings.TrimSpace(text) == "" {
		return text, entities
	}

	var spans []Span
	for _, r := range m.recognizers {
		found, err := r.Recognize(text)
		if err != nil {
			m.log.Warn("Recognizer failed", "recognizer", r.Name(), "error", err)
			continue
		}
		spans = append(spans, found...)
	}
	spans = m.selectSpans(text, spans)

	masked := text
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		mask := fmt.Sprintf("[%s_%d]", sp.Label, len(entities)+1)
		masked = masked[:sp.Start] + mask + masked[sp.End:]
		entities = append(entities, detox.Entity{
			Text:  text[sp.Start:sp.End],
			Label: sp.Label,
			Mask:  mask,
			Start: sp.Start,
			End:   sp.End,
		})
	}
	return masked, entities
}

// selectSpans keeps valid, allowed spans that do not touch an existing
// placeholder, then resolves overlaps in favour of the earliest and longest
// span. The result is sorted by Start.
func (m *Masker) selectSpans(text string, spans []Span) []Span {
	reserved := placeholderRE.FindAllStringIndex(text, -1)

	valid := spans[:0]
	for _, sp := range spans {
		sp.Label = normalizeLabel(sp.Label)
		if !m.allowed[sp.Label] {
			continue
		}
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		if overlapsAny(sp, reserved) {
			continue
		}
		valid = append(valid, sp)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End > valid[j].End
	})

	out := make([]Span, 0, len(valid))
	lastEnd := -1
	for _, sp := range valid {
		if sp.Start < lastEnd {
			continue
		}
		out = append(out, sp)
		lastEnd = sp.End
	}
	return out
}

func overlapsAny(sp Span, regions [][]int) bool {
	for _, r := range regions {
		if sp.Start < r[1] && r[0] < sp.End {
			return true
		}
	}
	return false
}
