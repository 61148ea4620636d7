package giphy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const DefaultBaseURL = "https://api.giphy.com"

type Config struct {
	APIKey  string
	BaseURL string
	Rating  string
	Timeout time.Duration
}

type Client struct {
	log     *logger.Logger
	apiKey  string
	baseURL string
	rating  string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rating := strings.TrimSpace(cfg.Rating)
	if rating == "" {
		rating = "pg-13"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		log:     log.With("client", "GiphyClient"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		rating:  rating,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

type searchResponse struct {
	Data []struct {
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// SearchFirst returns the original-size URL of the top GIF for the keywords,
// or "" when nothing matched.
func (c *Client) SearchFirst(ctx context.Context, keywords []string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	q := strings.TrimSpace(strings.Join(keywords, " "))
	if q == "" {
		return "", nil
	}
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("q", q)
	params.Set("limit", "1")
	params.Set("rating", c.rating)

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, c.baseURL+"/v1/gifs/search?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("giphy search: %w", err)
	}
	defer resp.Body.Close()
	raw, err := httpx.ReadLimited(resp.Body, 1<<20)
	if err != nil {
		return "", fmt.Errorf("giphy read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpx.StatusError{Service: "giphy", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var out searchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("giphy decode: %w", err)
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return out.Data[0].Images.Original.URL, nil
}
