package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed   AlertType = "run_failed"
	AlertRowsDropped AlertType = "rows_dropped"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates finished runs and sends alerts via webhook.
type Alerter struct {
	cfg    config.NotifyConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given notify config.
func NewAlerter(cfg config.NotifyConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate inspects a finished run and returns any alerts.
func (a *Alerter) Evaluate(run *model.Run) []Alert {
	if run == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	if run.Status == model.RunStatusFailed {
		details := map[string]any{
			"trigger": string(run.Trigger),
			"error":   run.Error,
		}
		step := "unknown"
		if fs := run.FailedStep(); fs != nil {
			step = fs.Name
			details["step"] = fs.Name
		}
		if run.WorkflowID != "" {
			details["workflow_id"] = run.WorkflowID
		}
		alerts = append(alerts, Alert{
			Type:      AlertRunFailed,
			Severity:  "high",
			RunID:     run.ID,
			Message:   fmt.Sprintf("Toll data run %s failed at step %s: %s", run.ID, step, run.Error),
			Details:   details,
			Timestamp: now,
		})
	}

	if a.cfg.AlertOnDrops {
		dropped, short := 0, 0
		for _, s := range run.Steps {
			dropped += s.Dropped
			short += s.Short
		}
		if dropped > 0 || short > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertRowsDropped,
				Severity: "low",
				RunID:    run.ID,
				Message: fmt.Sprintf("Toll data run %s dropped %d malformed line(s) and kept %d short line(s)",
					run.ID, dropped, short),
				Details: map[string]any{
					"dropped": dropped,
					"short":   short,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// NotifyRun evaluates run and delivers its alerts. Returns the number sent.
func (a *Alerter) NotifyRun(ctx context.Context, run *model.Run) int {
	return a.SendAlerts(ctx, a.Evaluate(run))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("run_id", alert.RunID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
