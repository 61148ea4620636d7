// Command index_headlines seeds the similarity index with historical
// headlines so the pipeline has context to compare against.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zeitwise/detox-backend/internal/app"
)

func main() {
	var (
		file     string
		pageURL  string
		selector string
		source   string
		dryRun   bool
	)
	flag.StringVar(&file, "file", "", "YAML file of `- headline: ...` entries")
	flag.StringVar(&pageURL, "url", "", "HTML page to scrape headlines from")
	flag.StringVar(&selector, "selector", defaultSelector, "CSS selector for headlines when -url is used")
	flag.StringVar(&source, "source", "", "source label stored with each point (defaults to -file or -url)")
	flag.BoolVar(&dryRun, "dry-run", false, "print headlines without indexing")
	flag.Parse()

	if (file == "") == (pageURL == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -url is required")
		os.Exit(2)
	}
	_ = godotenv.Load()
	ctx := context.Background()

	var (
		headlines []string
		err       error
	)
	if file != "" {
		if source == "" {
			source = file
		}
		f, ferr := os.Open(file)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", file, ferr)
			os.Exit(1)
		}
		headlines, err = parseYAMLHeadlines(f)
		f.Close()
	} else {
		if source == "" {
			source = pageURL
		}
		headlines, err = fetchPage(ctx, &http.Client{Timeout: 30 * time.Second}, pageURL, selector)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load headlines: %v\n", err)
		os.Exit(1)
	}
	if dryRun {
		for _, h := range headlines {
			fmt.Println(h)
		}
		return
	}

	a, err := app.New(ctx, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(ctx)
	if a.Embedder == nil {
		a.Log.Error("OPENAI_API_KEY is required to embed headlines")
		return
	}

	collection := a.Cfg.Pipeline.Collection
	indexed := 0
	for _, h := range headlines {
		masked, _ := a.Masker.Mask(h)
		vec, err := a.Embedder.Embed(ctx, masked)
		if err != nil {
			a.Log.Warn("embed headline failed", "headline", h, "error", err)
			continue
		}
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+h)).String()
		if !a.Index.Upsert(ctx, collection, id, vec, map[string]any{"headline": h, "source": source}) {
			continue
		}
		indexed++
	}
	a.Log.Info("Headlines indexed", "collection", collection, "indexed", indexed, "total", len(headlines))
}
