package email

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

const sendgridAPIURL = "https://api.sendgrid.com/v3/"

// Sendgrid delivers through the Sendgrid v3 mail send API.
// https://sendgrid.com/docs/API_Reference/api_v3.html
type Sendgrid struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client
	apiURL string
}

// NewSendgrid builds the Sendgrid provider.
func NewSendgrid(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Sendgrid {
	p := &Sendgrid{
		BaseProvider: gateway.NewBaseProvider("sendgrid", "Sendgrid", log),
		cfg:          cfg,
		client:       client,
		apiURL:       sendgridAPIURL,
	}
	p.Handle("send", p.send)
	return p
}

// send reshapes the message into the v3 personalization format. Rejections
// are reported as not-sent rather than errors so the service can decide.
func (p *Sendgrid) send(ctx context.Context, args interface{}) (interface{}, error) {
	if err := p.RequireConfig("SENDGRID_API_KEY", p.cfg.SendgridAPIKey); err != nil {
		return nil, err
	}
	data, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("email payload must be an object")
	}

	personalization := map[string]interface{}{
		"subject": data["subject"],
		"to":      data["to"],
	}
	if cc, ok := data["cc"]; ok {
		personalization["cc"] = cc
	}
	if bcc, ok := data["bcc"]; ok {
		personalization["bcc"] = bcc
	}

	content := make([]map[string]interface{}, 0, 2)
	if text, _ := data["body_plain_text"].(string); text != "" {
		content = append(content, map[string]interface{}{"type": "text/plain", "value": text})
	}
	if html, _ := data["body_html"].(string); html != "" {
		content = append(content, map[string]interface{}{"type": "text/html", "value": html})
	}

	payload := map[string]interface{}{
		"from":             data["from_email"],
		"personalizations": []interface{}{personalization},
		"content":          content,
	}
	if replyTo, ok := data["reply_to"]; ok {
		payload["reply_to"] = replyTo
	}

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.apiURL, "mail", "send"),
		Headers: map[string]string{"Authorization": "Bearer " + p.cfg.SendgridAPIKey},
		JSON:    payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusAccepted {
		return true, nil
	}

	var failure struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := resp.JSON(&failure); err != nil || len(failure.Errors) == 0 {
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Unexpected error [%d]: %s", resp.StatusCode, resp.Body))
	}
	p.Log().Error("Sendgrid error", zap.String("message", failure.Errors[0].Message))
	return false, nil
}
