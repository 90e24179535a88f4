package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/wneessen/go-mail"
)

// Sender delivers one notification over its channel. Retry and backoff,
// if any, happen inside Send; the returned error is final.
type Sender interface {
	Channel() models.NotificationChannel
	Send(ctx context.Context, req models.DeliveryRequest) error
}

// EmailConfig holds the SMTP settings
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailSender delivers notifications as multipart e-mails over SMTP.
// Port 465 uses implicit TLS; other ports upgrade with STARTTLS when the
// server offers it.
type EmailSender struct {
	config EmailConfig
	text   *UtilityService
}

func NewEmailSender(config EmailConfig) *EmailSender {
	if config.Timeout <= 0 {
		config.Timeout = shared.NewDefaultUnifiedConfiguration().Delivery.HTTPRequestTimeout
	}
	return &EmailSender{config: config, text: NewUtilityService()}
}

func (s *EmailSender) Channel() models.NotificationChannel {
	return models.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, req models.DeliveryRequest) error {
	if req.Recipient == "" {
		return shared.NewDeliveryFailure(string(models.ChannelEmail), req.Recipient, fmt.Errorf("no recipient"))
	}

	msg, err := s.buildMessage(req.Recipient, NewGrantMessage(req, s.text))
	if err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelEmail), req.Recipient, err)
	}

	client, err := s.newClient()
	if err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelEmail), req.Recipient, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelEmail), req.Recipient, err)
	}

	logrus.WithFields(logrus.Fields{
		"component":       "EmailSender",
		"notification_id": req.NotificationID,
		"grant_id":        req.GrantID,
	}).Debug("E-mail delivered")
	return nil
}

func (s *EmailSender) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(s.config.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.config.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if s.config.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.User),
			mail.WithPassword(s.config.Password),
		)
	}

	client, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client for %s: %w", s.config.Host, err)
	}
	return client, nil
}

// buildMessage renders a multipart/alternative message with plain text and
// HTML parts
func (s *EmailSender) buildMessage(to string, gm GrantMessage) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", s.config.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	msg.Subject(gm.Subject())
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, gm.PlainText())
	msg.AddAlternativeString(mail.TypeTextHTML, gm.HTML())
	return msg, nil
}

// TelegramConfig holds the Bot API settings
type TelegramConfig struct {
	BotToken   string
	APIURL     string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  time.Duration
}

// TelegramSender delivers notifications through the Bot API sendMessage
// method. Connection errors, 429 and 5xx replies are retried with backoff.
type TelegramSender struct {
	config      TelegramConfig
	client      *retryablehttp.Client
	rateLimiter *shared.HTTPRequestRateLimiter
	httpMetrics *shared.HTTPMetrics
	text        *UtilityService
}

func NewTelegramSender(config TelegramConfig, factory *shared.HTTPClientFactory) *TelegramSender {
	defaults := shared.NewDefaultUnifiedConfiguration().Delivery
	if config.APIURL == "" {
		config.APIURL = "https://api.telegram.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.HTTPRequestTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetryAttempts
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.TelegramRateLimit
	}

	client := factory.CreateRetryableClient(config.Timeout, config.MaxRetries, "TelegramSender")
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &TelegramSender{
		config:      config,
		client:      client,
		rateLimiter: shared.NewHTTPRequestRateLimiter(config.RateLimit),
		httpMetrics: shared.NewHTTPMetrics(),
		text:        NewUtilityService(),
	}
}

func (s *TelegramSender) Channel() models.NotificationChannel {
	return models.ChannelTelegram
}

func (s *TelegramSender) Send(ctx context.Context, req models.DeliveryRequest) error {
	if req.Recipient == "" {
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, fmt.Errorf("no chat id"))
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  req.Recipient,
		"text":                     NewGrantMessage(req, s.text).TelegramText(),
		"disable_web_page_preview": true,
	})
	if err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, err)
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, err)
	}

	endpoint := strings.TrimRight(s.config.APIURL, "/") + "/bot" + s.config.BotToken + "/sendMessage"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.httpMetrics.RecordHTTPRequest(false, 0, time.Since(start), "transport")
		// the token is part of the URL and must not reach logs
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, fmt.Errorf("telegram request failed: %s", redactToken(err.Error(), s.config.BotToken)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.httpMetrics.RecordHTTPRequest(false, resp.StatusCode, time.Since(start), "read_body")
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, err)
	}

	if err := parseTelegramReply(resp.StatusCode, body); err != nil {
		s.httpMetrics.RecordHTTPRequest(false, resp.StatusCode, time.Since(start), "api")
		return shared.NewDeliveryFailure(string(models.ChannelTelegram), req.Recipient, err)
	}

	s.httpMetrics.RecordHTTPRequest(true, resp.StatusCode, time.Since(start), "")
	logrus.WithFields(logrus.Fields{
		"component":       "TelegramSender",
		"notification_id": req.NotificationID,
		"grant_id":        req.GrantID,
		"message_id":      gjson.GetBytes(body, "result.message_id").Int(),
	}).Debug("Telegram message delivered")
	return nil
}

// GetHTTPMetrics returns the Bot API request metrics
func (s *TelegramSender) GetHTTPMetrics() *shared.HTTPMetrics {
	return s.httpMetrics
}

// parseTelegramReply turns a Bot API reply into an error unless it reports
// "ok": true
func parseTelegramReply(statusCode int, body []byte) error {
	if gjson.ValidBytes(body) && gjson.GetBytes(body, "ok").Bool() {
		return nil
	}

	description := gjson.GetBytes(body, "description").String()
	if description == "" {
		description = strings.TrimSpace(string(body))
	}
	if description == "" {
		description = http.StatusText(statusCode)
	}
	return fmt.Errorf("telegram API status %d: %s", statusCode, description)
}

func redactToken(message, token string) string {
	if token == "" {
		return message
	}
	return strings.ReplaceAll(message, token, "<redacted>")
}
