package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

const mailgunAPIURL = "https://api.mailgun.net/v3/"

// Mailgun delivers through the Mailgun messages API. Mailgun is not a JSON
// API, messages go out form-encoded.
// https://documentation.mailgun.com/en/latest/api-sending.html
type Mailgun struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client
	apiURL string
}

// NewMailgun builds the Mailgun provider.
func NewMailgun(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Mailgun {
	p := &Mailgun{
		BaseProvider: gateway.NewBaseProvider("mailgun", "Mailgun", log),
		cfg:          cfg,
		client:       client,
		apiURL:       mailgunAPIURL,
	}
	p.Handle("send", p.send)
	return p
}

func (p *Mailgun) send(ctx context.Context, args interface{}) (interface{}, error) {
	if err := p.RequireConfig("MAILGUN_DOMAIN", p.cfg.MailgunDomain); err != nil {
		return nil, err
	}
	if err := p.RequireConfig("MAILGUN_API_KEY", p.cfg.MailgunAPIKey); err != nil {
		return nil, err
	}
	data, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("email payload must be an object")
	}

	// Mailgun doesn't accept nulls, absent fields are skipped.
	form := url.Values{}
	setForm := func(key, value string) {
		if value != "" {
			form.Set(key, value)
		}
	}
	setForm("from", personFormat(data["from_email"]))
	setForm("to", personFormat(data["to"]))
	setForm("cc", personFormat(data["cc"]))
	setForm("bcc", personFormat(data["bcc"]))
	if subject, _ := data["subject"].(string); subject != "" {
		form.Set("subject", subject)
	}
	if text, _ := data["body_plain_text"].(string); text != "" {
		form.Set("text", text)
	}
	if html, _ := data["body_html"].(string); html != "" {
		form.Set("html", html)
	}

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.apiURL, p.cfg.MailgunDomain, "messages"),
		Headers: map[string]string{"Accept": "application/json"},
		Auth:    &upstream.BasicAuth{Username: "api", Password: p.cfg.MailgunAPIKey},
		Form:    form,
	})
	if err != nil {
		return nil, err
	}

	var reply map[string]interface{}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Unexpected error [%d]: %s", resp.StatusCode, resp.Body))
	}
	if id, _ := reply["id"].(string); id != "" {
		return true, nil
	}

	p.Log().Error("Mailgun sending fails", zap.Any("response", reply))
	return nil, gateway.NewProviderError(fmt.Sprintf("Mailgun error %v", reply))
}

// personFormat renders Person values as RFC 5322 style addresses,
// "Name <box@host>" for one person and comma-joined for a list.
func personFormat(v interface{}) string {
	switch p := v.(type) {
	case map[string]interface{}:
		email, _ := p["email"].(string)
		if name, _ := p["name"].(string); name != "" {
			return fmt.Sprintf("%s <%s>", name, email)
		}
		return email
	case []interface{}:
		parts := make([]string, 0, len(p))
		for _, item := range p {
			parts = append(parts, personFormat(item))
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
