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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubissbe/threat-modeling-mlops/config"
	"github.com/anubissbe/threat-modeling-mlops/pkg/mlerrors"
)

func testAlert() *Alert {
	return &Alert{
		ModelID:   "signature_detector",
		Rule:      "feature_drift",
		Severity:  SeverityWarning,
		Message:   "feature severity drifted from reference",
		Value:     0.3,
		Threshold: 0.2,
		Timestamp: time.Now(),
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	assert := assert.New(t)
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	var received Alert
	httpmock.RegisterResponder(http.MethodPost, "http://example.com/alerts",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	channel := &webhookChannel{url: "http://example.com/alerts", client: client}
	assert.Equal("webhook", channel.Name())
	assert.NoError(channel.Send(context.Background(), testAlert()))
	assert.Equal(1, httpmock.GetTotalCallCount())
	assert.Equal("signature_detector", received.ModelID)
	assert.Equal("feature_drift", received.Rule)
}

func TestWebhookChannel_SendFailure(t *testing.T) {
	assert := assert.New(t)
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://example.com/alerts",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	channel := &webhookChannel{url: "http://example.com/alerts", client: client}
	assert.Error(channel.Send(context.Background(), testAlert()))
}

func TestChatChannel_Send(t *testing.T) {
	assert := assert.New(t)
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	var payload map[string]string
	httpmock.RegisterResponder(http.MethodPost, "http://chat.example.com/hook",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	channel := &chatChannel{url: "http://chat.example.com/hook", client: client}
	assert.Equal("chat", channel.Name())
	require.NoError(t, channel.Send(context.Background(), testAlert()))
	assert.Contains(payload["text"], "signature_detector")
	assert.Contains(payload["text"], "WARNING")
}

type fakeChannel struct {
	name string
	err  error
	sent []*Alert
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, alert *Alert) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, alert)
	return nil
}

func TestNotifier_Send(t *testing.T) {
	assert := assert.New(t)
	notifier := NewNotifier(&config.AlertsConfig{})

	good := &fakeChannel{name: "good"}
	bad := &fakeChannel{name: "bad", err: errors.New("connection refused")}
	notifier.AddChannel(bad)
	notifier.AddChannel(good)

	var observed *Alert
	notifier.OnSent(func(alert *Alert) { observed = alert })

	alert := testAlert()
	err := notifier.Send(context.Background(), alert)

	// The failing channel is reported, the good one still delivered.
	assert.ErrorIs(err, mlerrors.ErrAlertChannel)
	assert.Len(good.sent, 1)
	assert.Same(alert, observed)
}

func TestNotifier_SendAllHealthy(t *testing.T) {
	assert := assert.New(t)
	notifier := NewNotifier(&config.AlertsConfig{})

	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	notifier.AddChannel(a)
	notifier.AddChannel(b)

	assert.NoError(notifier.Send(context.Background(), testAlert()))
	assert.Len(a.sent, 1)
	assert.Len(b.sent, 1)
}

func TestNewNotifier_Channels(t *testing.T) {
	assert := assert.New(t)
	notifier := NewNotifier(&config.AlertsConfig{
		Webhooks:    []string{"http://example.com/a", "http://example.com/b"},
		ChatWebhook: "http://chat.example.com/hook",
		Email: config.EmailConfig{
			SMTPAddr: "smtp.example.com:25",
			From:     "mlops@example.com",
			To:       []string{"oncall@example.com"},
		},
	})

	assert.Len(notifier.channels, 4)
}
