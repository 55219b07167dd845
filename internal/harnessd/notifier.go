package harnessd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

// NotificationPayload represents the JSON payload sent to the callback URL
type NotificationPayload struct {
	RunID      string                `json:"run_id"`
	Status     models.RunStatus      `json:"status"`
	Mode       string                `json:"mode"`
	Iterations int                   `json:"iterations"`
	Error      string                `json:"error,omitempty"`
	Report     *models.QualityReport `json:"report,omitempty"`
	Timestamp  int64                 `json:"timestamp"` // unix ms at send time
}

// ErrInvalidCallback is returned for callback URLs that are not absolute http(s) URLs
var ErrInvalidCallback = errors.New("invalid callback_url")

func validateCallbackURL(raw string) error {
	u, err := url.Parse(strings.ReplaceAll(raw, "{run_id}", "run"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidCallback)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidCallback)
	}
	return nil
}

// Notifier posts run results to per-run callback URLs
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
	breaker    *hostBreaker

	wg sync.WaitGroup
}

// NewNotifier creates a notifier with exponential backoff between attempts
func NewNotifier(cfg config.NotifyConfig) *Notifier {
	base := time.Duration(cfg.BaseDelayMs) * time.Millisecond
	backoff := utils.NewExponentialBackoff(base, 30*time.Second, 2)
	backoff.Jitter = utils.NewRandSource(0)
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		breaker:    newHostBreaker(5, time.Minute),
	}
}

// Notify sends the record to its callback URL in the background. Runs
// without a callback are ignored.
func (n *Notifier) Notify(rec RunRecord) {
	if rec.Run.CallbackURL == "" {
		return
	}

	finalURL := strings.ReplaceAll(rec.Run.CallbackURL, "{run_id}", rec.Run.ID)
	payload := NotificationPayload{
		RunID:      rec.Run.ID,
		Status:     rec.Run.Status,
		Mode:       rec.Run.Mode,
		Iterations: rec.Run.Iterations,
		Error:      rec.Run.Error,
		Report:     rec.Report,
		Timestamp:  time.Now().UTC().UnixMilli(),
	}

	host := callbackHost(finalURL)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if !n.breaker.Allow(host) {
			logger.Warn("skipping notification, callback host circuit open",
				"callback_url", finalURL,
				"run_id", payload.RunID)
			return
		}
		if err := n.sendNotification(finalURL, payload); err != nil {
			n.breaker.RecordFailure(host)
			return
		}
		n.breaker.RecordSuccess(host)
	}()
}

// Wait blocks until pending notifications are done
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func callbackHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

func (n *Notifier) sendNotification(callbackURL string, payload NotificationPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload",
			"callback_url", callbackURL,
			"run_id", payload.RunID,
			"error", err)
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying notification",
				"callback_url", callbackURL,
				"run_id", payload.RunID,
				"attempt", attempt,
				"delay", delay)
			time.Sleep(delay)
		}

		req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(payloadJSON))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			break
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "loopback-harness/1.0")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			logger.Warn("notification attempt failed",
				"callback_url", callbackURL,
				"run_id", payload.RunID,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("notification sent",
				"run_id", payload.RunID,
				"status", payload.Status,
				"status_code", resp.StatusCode)
			return nil
		}

		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		logger.Warn("notification returned non-2xx status",
			"callback_url", callbackURL,
			"run_id", payload.RunID,
			"status_code", resp.StatusCode,
			"response_body", string(body),
			"attempt", attempt+1)
	}

	logger.Error("failed to send notification after retries",
		"callback_url", callbackURL,
		"run_id", payload.RunID,
		"status", payload.Status,
		"max_retries", n.maxRetries,
		"last_error", lastErr)
	return lastErr
}
