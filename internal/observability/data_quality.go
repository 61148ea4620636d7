package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

// DataQuality records malformed upstream output (an out-of-range confidence,
// a missing JSON key) as a metric, a warning and optionally a throttled webhook
// alert.
type DataQuality struct {
	log         *logger.Logger
	metrics     *Metrics
	webhook     string
	minInterval time.Duration
	http        *http.Client

	mu   sync.Mutex
	last map[string]time.Time
}

func NewDataQuality(log *logger.Logger, metrics *Metrics) *DataQuality {
	webhook := ""
	if envutil.Bool("DATA_QUALITY_ALERTS_ENABLED", false) {
		webhook = envutil.String("DATA_QUALITY_ALERT_WEBHOOK_URL", "")
	}
	return &DataQuality{
		log:         log.With("component", "DataQuality"),
		metrics:     metrics,
		webhook:     webhook,
		minInterval: envutil.Seconds("DATA_QUALITY_ALERT_MIN_INTERVAL_SECONDS", 5*time.Minute),
		http:        &http.Client{Timeout: 5 * time.Second},
		last:        map[string]time.Time{},
	}
}

// Report is safe on a nil receiver.
func (d *DataQuality) Report(ctx context.Context, stage, issue string, meta map[string]any) {
	if d == nil {
		return
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "unknown"
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
	}
	d.metrics.DataQualityIssue(stage, issue)
	d.log.Warn("data quality issue detected", "stage", stage, "issue", issue, "meta", meta)
	d.alert(stage, issue, meta)
}

func (d *DataQuality) alert(stage, issue string, meta map[string]any) {
	if d.webhook == "" {
		return
	}
	key := stage + "|" + issue
	now := time.Now()
	d.mu.Lock()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.minInterval {
		d.mu.Unlock()
		return
	}
	d.last[key] = now
	d.mu.Unlock()

	body, err := json.Marshal(map[string]any{
		"text":  "data quality issue: " + stage + "/" + issue,
		"stage": stage,
		"issue": issue,
		"meta":  meta,
	})
	if err != nil {
		return
	}
	go func() {
		resp, err := d.http.Post(d.webhook, "application/json", bytes.NewReader(body))
		if err != nil {
			d.log.Warn("data quality alert failed", "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}
