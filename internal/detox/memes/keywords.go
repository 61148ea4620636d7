package memes

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	wordRE    = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	stopWords = map[string]struct{}{
		"the": {}, "and": {}, "or": {}, "in": {}, "on": {}, "at": {}, "to": {},
		"for": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	}
)

// Keywords returns up to n of the most frequent words in text. Stop words and
// words of two characters or fewer are ignored; ties keep first-seen order.
func Keywords(text string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	counts := map[string]int{}
	var order []string
	for _, w := range wordRE.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop || utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		return []string{}
	}
	return order
}
