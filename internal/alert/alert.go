// Package alert sends webhook notifications when a check flips between
// passing and failing.
package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/beacon/internal/check"
)

// Alerter posts a JSON payload to a webhook on pass/fail transitions. A
// per-check cooldown suppresses repeat notifications for flapping checks.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	log        *zap.Logger

	mu        sync.Mutex
	lastAlert map[int64]time.Time
}

// New creates an Alerter. Pass nil logger to discard logs.
func New(webhookURL string, cooldown time.Duration, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		lastAlert:  make(map[int64]time.Time),
	}
}

type webhookPayload struct {
	CheckID      int64  `json:"check_id"`
	Pass         bool   `json:"pass"`
	PreviousPass bool   `json:"previous_pass"`
	Message      string `json:"message,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	StartedAt    string `json:"started_at"`
	Source       string `json:"source"`
}

// Notify is wired as the registry's result callback. prev is nil on a
// check's first recorded execution, which never alerts.
func (a *Alerter) Notify(cur check.Result, prev *check.Result) {
	if prev == nil {
		return
	}
	if cur.Pass == prev.Pass {
		return
	}

	a.mu.Lock()
	last, seen := a.lastAlert[cur.CheckID]
	if seen && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.log.Info("alert suppressed by cooldown", zap.Int64("check_id", cur.CheckID))
		return
	}
	a.lastAlert[cur.CheckID] = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the execution path.
	go a.send(cur, prev.Pass)
}

func (a *Alerter) send(cur check.Result, prevPass bool) {
	payload := webhookPayload{
		CheckID:      cur.CheckID,
		Pass:         cur.Pass,
		PreviousPass: prevPass,
		Message:      cur.Message,
		ElapsedMs:    cur.Elapsed.Milliseconds(),
		StartedAt:    cur.StartedAt.UTC().Format(time.RFC3339),
		Source:       "beacon",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Error("marshaling webhook payload", zap.Int64("check_id", cur.CheckID), zap.Error(err))
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.log.Error("sending webhook",
			zap.Int64("check_id", cur.CheckID),
			zap.String("url", a.webhookURL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.log.Warn("webhook returned non-2xx status",
			zap.Int64("check_id", cur.CheckID),
			zap.Int("status", resp.StatusCode),
		)
	}
}
