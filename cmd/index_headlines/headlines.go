package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

const defaultSelector = "h1, h2, h3"

type headlineEntry struct {
	Headline string `yaml:"headline"`
}

// parseYAMLHeadlines accepts a list of `- headline: ...` entries. Bare
// strings are accepted too.
func parseYAMLHeadlines(r io.Reader) ([]string, error) {
	var nodes []yaml.Node
	if err := yaml.NewDecoder(r).Decode(&nodes); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode headlines: %w", err)
	}
	var out []string
	for i := range nodes {
		n := &nodes[i]
		switch n.Kind {
		case yaml.ScalarNode:
			out = append(out, n.Value)
		case yaml.MappingNode:
			var e headlineEntry
			if err := n.Decode(&e); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, e.Headline)
		default:
			return nil, fmt.Errorf("entry %d: unexpected yaml node", i)
		}
	}
	return clean(out), nil
}

func extractHTMLHeadlines(r io.Reader, selector string) ([]string, error) {
	if strings.TrimSpace(selector) == "" {
		selector = defaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return clean(out), nil
}

func fetchPage(ctx context.Context, client *http.Client, url, selector string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "detox-index-headlines/1.0")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: %s", url, res.Status)
	}
	return extractHTMLHeadlines(res.Body, selector)
}

// clean collapses whitespace and drops blanks and duplicates, keeping order.
func clean(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.Join(strings.Fields(h), " ")
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
