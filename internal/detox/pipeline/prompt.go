package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeitwise/detox-backend/internal/domain/detox"
)

const (
	noSimilarItems     = "No similar historical items found."
	promptContextItems = 3
	defaultConfidence  = 0.5
	fallbackAnalysis   = "Unable to generate analysis due to an error."
)

// FallbackAnalysis is used whenever the model call or its JSON fails.
func FallbackAnalysis() detox.Analysis {
	return detox.Analysis{
		Analysis:      fallbackAnalysis,
		IsSensational: false,
		Confidence:    0.0,
		KeyPoints:     []string{},
	}
}

func similarContext(items []detox.SimilarItem) string {
	if len(items) == 0 {
		return noSimilarItems
	}
	if len(items) > promptContextItems {
		items = items[:promptContextItems]
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- %s (%.2f)", it.Headline, it.Score))
	}
	return strings.Join(lines, "\n")
}

// AnalysisPrompt renders the request for a JSON verdict on one headline.
func AnalysisPrompt(originalText, maskedText string, similar []detox.SimilarItem) string {
	var b strings.Builder
	b.WriteString("You are a news analysis assistant. Provide a calm, balanced analysis of this headline.\n\n")
	fmt.Fprintf(&b, "Original headline: %s\n", originalText)
	fmt.Fprintf(&b, "Masked version: %s\n\n", maskedText)
	b.WriteString("Similar historical headlines:\n")
	b.WriteString(similarContext(similar))
	b.WriteString("\n\nPlease provide:\n")
	b.WriteString("1. A brief analysis of the headline's content\n")
	b.WriteString("2. Historical context if available\n")
	b.WriteString("3. A balanced perspective\n")
	b.WriteString("4. A confidence score (0-1) on whether this is sensationalized\n\n")
	b.WriteString("Format your response as JSON with these fields:\n")
	b.WriteString("- \"analysis\": \"your analysis here\"\n")
	b.WriteString("- \"is_sensational\": boolean\n")
	b.WriteString("- \"confidence\": 0.0 to 1.0\n")
	b.WriteString("- \"key_points\": [\"point 1\", \"point 2\", ...]\n")
	return b.String()
}

// parseAnalysis decodes the model's JSON object. Missing keys take neutral
// defaults; a confidence that is present but not a number is an error. The
// second return value reports whether confidence had to be clamped.
func parseAnalysis(content string) (detox.Analysis, bool, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return detox.Analysis{}, false, fmt.Errorf("decode analysis: %w", err)
	}
	if raw == nil {
		return detox.Analysis{}, false, fmt.Errorf("decode analysis: not an object")
	}
	out := detox.Analysis{KeyPoints: []string{}, Confidence: defaultConfidence}
	if s, ok := raw["analysis"].(string); ok {
		out.Analysis = s
	}
	if b, ok := raw["is_sensational"].(bool); ok {
		out.IsSensational = b
	}
	if v, ok := raw["confidence"]; ok && v != nil {
		c, err := toFloat(v)
		if err != nil {
			return detox.Analysis{}, false, fmt.Errorf("decode analysis: confidence: %w", err)
		}
		out.Confidence = c
	}
	if pts, ok := raw["key_points"].([]any); ok {
		for _, p := range pts {
			if s, ok := p.(string); ok {
				out.KeyPoints = append(out.KeyPoints, s)
			} else if p != nil {
				out.KeyPoints = append(out.KeyPoints, fmt.Sprint(p))
			}
		}
	}
	clamped := false
	out.Confidence, clamped = clampConfidence(out.Confidence)
	return out, clamped, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func clampConfidence(c float64) (float64, bool) {
	switch {
	case math.IsNaN(c):
		return 0, true
	case c < 0:
		return 0, true
	case c > 1:
		return 1, true
	default:
		return c, false
	}
}
