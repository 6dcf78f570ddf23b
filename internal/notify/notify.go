// Package notify sends operator-facing alerts (the startup heartbeat
// and dispatch failures, as cmd/bridge wires it) to an external chat
// endpoint.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier delivers a plain-text alert to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Webhook posts alerts to a Telegram-compatible bot API endpoint
// using the token/chatId pair from NotificationConfig.
type Webhook struct {
	http   *resty.Client
	chatID int64
}

// NewWebhook builds a Webhook notifier. baseURL is the bot API root
// (e.g. "https://api.telegram.org/bot<token>"); chatID is the
// destination chat.
func NewWebhook(baseURL string, chatID int64) *Webhook {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &Webhook{http: client, chatID: chatID}
}

// Notify posts message to the configured chat via sendMessage.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id": w.chatID,
			"text":    message,
		}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// Logging is a Notifier that writes alerts through a *log.Logger,
// used in tests and when no webhook token is configured.
type Logging struct {
	Logger *log.Logger
}

// NewLogging builds a Logging notifier with log.Default() as its sink.
func NewLogging() *Logging {
	return &Logging{Logger: log.Default()}
}

func (l *Logging) Notify(_ context.Context, message string) error {
	l.Logger.Printf("notify: %s", message)
	return nil
}

var _ Notifier = (*Webhook)(nil)
var _ Notifier = (*Logging)(nil)
