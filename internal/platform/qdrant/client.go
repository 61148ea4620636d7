package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const (
	payloadExternalIDKey = "external_id"
	maxErrorBodyBytes    = 1024
	maxResponseBytes     = 4 << 20
)

var pointIDNamespaceUUID = uuid.MustParse("6f0b7c1e-4a52-4d0f-9b53-2f1e64c0d7a3")

// Match is one nearest neighbour returned by Search.
type Match struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Client talks to the Qdrant REST API. It is safe for concurrent use; the
// underlying http.Client pools connections.
type Client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		log:     log.With("client", "QdrantClient"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Collection is the configured default collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

// EnsureCollection creates the collection with cosine distance when it does
// not exist. An existing collection with the same vector size is a success.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) bool {
	if err := c.ensureCollection(ctx, c.collectionName(name), dim); err != nil {
		c.log.Error("qdrant ensure collection failed", "collection", c.collectionName(name), "error", err)
		return false
	}
	return true
}

func (c *Client) ensureCollection(ctx context.Context, name string, dim int) error {
	const op = "ensure_collection"
	if dim <= 0 {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("invalid vector dimension %d", dim), nil)
	}
	var info qdrantCollectionInfo
	err := c.doJSON(ctx, op, http.MethodGet, collectionPath(name, ""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != dim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", name, dim, size), nil)
		}
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := c.doJSON(ctx, op, http.MethodPut, collectionPath(name, ""), body, nil); err != nil {
		return err
	}
	c.log.Info("qdrant collection created", "collection", name, "vector_dim", dim)
	return nil
}

// Upsert inserts or overwrites one point. Failures are logged and reported as
// false; the caller decides whether that matters.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) bool {
	if err := c.upsert(ctx, c.collectionName(collection), id, vector, payload); err != nil {
		c.log.Warn("qdrant upsert failed", "collection", c.collectionName(collection), "id", id, "error", err)
		return false
	}
	return true
}

func (c *Client) upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	const op = "upsert"
	id = strings.TrimSpace(id)
	if id == "" {
		return opErr(op, OperationErrorValidation, "point id is required", nil)
	}
	if len(vector) == 0 {
		return opErr(op, OperationErrorValidation, "vector is empty", nil)
	}
	if c.cfg.VectorDim > 0 && len(vector) != c.cfg.VectorDim {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("vector dimension mismatch: expected=%d got=%d", c.cfg.VectorDim, len(vector)), nil)
	}
	body := clonePayload(payload)
	body[payloadExternalIDKey] = id
	req := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(collection, id),
			"vector":  vector,
			"payload": body,
		}},
	}
	return c.doJSON(ctx, op, http.MethodPut, collectionPath(collection, "/points?wait=true"), req, nil)
}

// Search returns at most topK neighbours scoring at least minScore, best
// first. An unreachable or failing index yields an empty result and false.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64, filter map[string]any) ([]Match, bool) {
	out, err := c.search(ctx, c.collectionName(collection), vector, topK, minScore, filter)
	if err != nil {
		c.log.Warn("qdrant search failed; continuing without similar items",
			"collection", c.collectionName(collection), "error", err)
		return []Match{}, false
	}
	return out, true
}

func (c *Client) search(ctx context.Context, collection string, vector []float32, topK int, minScore float64, filter map[string]any) ([]Match, error) {
	const op = "search"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           topK,
		"with_payload":    true,
		"with_vector":     false,
		"score_threshold": minScore,
	}
	if f := matchFilter(filter); f != nil {
		req["filter"] = f
	}
	var raw []qdrantSearchResultItem
	if err := c.doJSON(ctx, op, http.MethodPost, collectionPath(collection, "/points/search"), req, &raw); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		if item.Score < minScore {
			continue
		}
		payload := clonePayload(item.Payload)
		id, _ := payload[payloadExternalIDKey].(string)
		delete(payload, payloadExternalIDKey)
		if strings.TrimSpace(id) == "" {
			id = decodePointID(item.ID)
		}
		if id == "" {
			continue
		}
		out = append(out, Match{ID: id, Score: item.Score, Payload: payload})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// matchFilter turns {"key": value} into exact-match must conditions.
func matchFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := httpx.ReadLimited(resp.Body, maxResponseBytes)
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{Code: OperationErrorQueryFailed, Operation: op, StatusCode: resp.StatusCode, Message: statusErr}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (c *Client) collectionName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return c.cfg.Collection
}

func collectionPath(collection, suffix string) string {
	return "/collections/" + collection + suffix
}

// pointID maps an arbitrary caller id onto the UUID space Qdrant accepts.
func pointID(collection, id string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(collection+"|"+id)).String()
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
