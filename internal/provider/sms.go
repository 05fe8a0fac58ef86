package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eci-platform/notifyd/internal/config"
	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/httpclient"
)

// SMSProvider delivers through an HTTP SMS gateway. Gateway 5xx, 408 and
// 429 responses are transient; any other 4xx means the gateway rejected the
// message.
type SMSProvider struct {
	url    string
	apiKey string
	sender string
	client *httpclient.Client
}

type smsRequest struct {
	To      string `json:"to"`
	Sender  string `json:"sender,omitempty"`
	Message string `json:"message"`
}

func NewSMSProvider(cfg config.SMSGatewayConfig, client *httpclient.Client) *SMSProvider {
	return &SMSProvider{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
		client: client,
	}
}

func (p *SMSProvider) Channel() domain.Channel {
	return domain.ChannelSMS
}

func (p *SMSProvider) Send(ctx context.Context, msg Message) Result {
	if p.url == "" {
		return Result{Status: StatusRetryable, Detail: "sms gateway url not configured"}
	}
	if msg.Recipient == "" {
		return Result{Status: StatusPermanent, Detail: "empty sms recipient"}
	}

	payload, err := json.Marshal(smsRequest{
		To:      msg.Recipient,
		Sender:  p.sender,
		Message: msg.Body,
	})
	if err != nil {
		return Result{Status: StatusPermanent, Detail: fmt.Sprintf("encode sms request: %v", err)}
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["X-API-Key"] = p.apiKey
	}

	resp, err := p.client.Post(ctx, p.url, payload, headers)
	if err != nil {
		// Network failures and context timeouts are transient.
		return Result{Status: StatusRetryable, Detail: err.Error()}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Status: StatusSuccess, Code: resp.StatusCode}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Result{Status: StatusRetryable, Code: resp.StatusCode, Detail: resp.Body}
	default:
		return Result{Status: StatusPermanent, Code: resp.StatusCode, Detail: resp.Body}
	}
}
