/*
 *     Copyright 2025 The Threat Modeling MLOps Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/anubissbe/threat-modeling-mlops/config"
	logger "github.com/anubissbe/threat-modeling-mlops/internal/dflog"
	"github.com/anubissbe/threat-modeling-mlops/metrics"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

const (
	// SeverityWarning marks degraded but serving models.
	SeverityWarning = "warning"

	// SeverityCritical marks models that need intervention.
	SeverityCritical = "critical"
)

const alertSendTimeout = 10 * time.Second

// Alert is one monitoring alert.
type Alert struct {
	// ModelID is the affected model.
	ModelID string `json:"modelId"`

	// Rule names the condition that fired.
	Rule string `json:"rule"`

	// Severity is warning or critical.
	Severity string `json:"severity"`

	// Message is a human readable summary.
	Message string `json:"message"`

	// Value is the observed value.
	Value float64 `json:"value"`

	// Threshold is the configured threshold.
	Threshold float64 `json:"threshold"`

	// Timestamp is the fire time.
	Timestamp time.Time `json:"timestamp"`
}

// Channel delivers alerts to one destination.
type Channel interface {
	// Name returns the channel name.
	Name() string

	// Send delivers one alert.
	Send(ctx context.Context, alert *Alert) error
}

// Notifier fans an alert out to every configured channel. One failing
// channel never blocks the others.
type Notifier struct {
	channels []Channel
	onSent   func(alert *Alert)
}

// NewNotifier builds the channels from config.
func NewNotifier(cfg *config.AlertsConfig) *Notifier {
	n := &Notifier{}
	for _, webhook := range cfg.Webhooks {
		n.channels = append(n.channels, &webhookChannel{url: webhook, client: &http.Client{Timeout: alertSendTimeout}})
	}

	if cfg.ChatWebhook != "" {
		n.channels = append(n.channels, &chatChannel{url: cfg.ChatWebhook, client: &http.Client{Timeout: alertSendTimeout}})
	}

	if cfg.Email.SMTPAddr != "" {
		n.channels = append(n.channels, &emailChannel{config: &cfg.Email})
	}

	return n
}

// AddChannel registers an additional channel.
func (n *Notifier) AddChannel(channel Channel) {
	n.channels = append(n.channels, channel)
}

// OnSent registers a callback fired after every delivered alert.
func (n *Notifier) OnSent(f func(alert *Alert)) {
	n.onSent = f
}

// Send delivers the alert to all channels and aggregates failures.
func (n *Notifier) Send(ctx context.Context, alert *Alert) error {
	var result *multierror.Error
	for _, channel := range n.channels {
		log := logger.WithAlertChannel(channel.Name())
		if err := channel.Send(ctx, alert); err != nil {
			metrics.AlertFailureCount.WithLabelValues(channel.Name(), alert.Severity).Inc()
			log.Errorf("send alert %s for model %s: %v", alert.Rule, alert.ModelID, err)
			result = multierror.Append(result, fmt.Errorf("%w: %s: %v", mlerrors.ErrAlertChannel, channel.Name(), err))
			continue
		}

		metrics.AlertCount.WithLabelValues(channel.Name(), alert.Severity).Inc()
		log.Infof("alert %s sent for model %s", alert.Rule, alert.ModelID)
	}

	if n.onSent != nil {
		n.onSent(alert)
	}

	return result.ErrorOrNil()
}

// webhookChannel posts the alert as json.
type webhookChannel struct {
	url    string
	client *http.Client
}

func (c *webhookChannel) Name() string { return "webhook" }

func (c *webhookChannel) Send(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	return c.post(ctx, body)
}

func (c *webhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

// chatChannel posts a text payload compatible with slack style incoming
// webhooks.
type chatChannel struct {
	url    string
	client *http.Client
}

func (c *chatChannel) Name() string { return "chat" }

func (c *chatChannel) Send(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("[%s] %s: %s (value %.4f, threshold %.4f)",
			strings.ToUpper(alert.Severity), alert.ModelID, alert.Message, alert.Value, alert.Threshold),
	})
	if err != nil {
		return err
	}

	return (&webhookChannel{url: c.url, client: c.client}).post(ctx, body)
}

// emailChannel sends a plain text mail over smtp.
type emailChannel struct {
	config *config.EmailConfig
}

func (c *emailChannel) Name() string { return "email" }

func (c *emailChannel) Send(ctx context.Context, alert *Alert) error {
	var auth smtp.Auth
	if c.config.Username != "" {
		host := c.config.SMTPAddr
		if i := strings.Index(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, host)
	}

	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] model %s %s\r\n\r\n%s\r\n\r\nvalue %.4f, threshold %.4f, at %s\r\n",
		c.config.From, strings.Join(c.config.To, ", "), alert.Severity, alert.ModelID, alert.Rule,
		alert.Message, alert.Value, alert.Threshold, alert.Timestamp.Format(time.RFC3339))

	return smtp.SendMail(c.config.SMTPAddr, auth, c.config.From, c.config.To, []byte(message))
}
