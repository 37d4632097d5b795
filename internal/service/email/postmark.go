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

const postmarkAPIURL = "https://api.postmarkapp.com/email"

// Postmark delivers through the Postmark email API. Postmark only sends from
// sender signatures registered with the account, so the From address is the
// configured sender, not the message's from_email.
// https://postmarkapp.com/developer/user-guide/sending-email/sending-with-api
type Postmark struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client
	apiURL string
}

// NewPostmark builds the Postmark provider.
func NewPostmark(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Postmark {
	p := &Postmark{
		BaseProvider: gateway.NewBaseProvider("postmark", "Postmark", log),
		cfg:          cfg,
		client:       client,
		apiURL:       postmarkAPIURL,
	}
	p.Handle("send", p.send)
	return p
}

func (p *Postmark) send(ctx context.Context, args interface{}) (interface{}, error) {
	if err := p.RequireConfig("POSTMARK_API_KEY", p.cfg.PostmarkAPIKey); err != nil {
		return nil, err
	}
	data, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("email payload must be an object")
	}

	payload := map[string]interface{}{
		"From":     p.cfg.PostmarkSender,
		"To":       personFormat(data["to"]),
		"Cc":       personFormat(data["cc"]),
		"Bcc":      personFormat(data["bcc"]),
		"Subject":  data["subject"],
		"TextBody": data["body_plain_text"],
		"HtmlBody": data["body_html"],
	}

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method: http.MethodPost,
		URL:    p.apiURL,
		Headers: map[string]string{
			"Accept":                  "application/json",
			"X-Postmark-Server-Token": p.cfg.PostmarkAPIKey,
		},
		JSON: payload,
	})
	if err != nil {
		return nil, err
	}

	var reply map[string]interface{}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Unexpected error [%d]: %s", resp.StatusCode, resp.Body))
	}
	if id, _ := reply["MessageID"].(string); id != "" {
		return true, nil
	}

	p.Log().Error("Postmark sending fails", zap.Any("response", reply))
	return nil, gateway.NewProviderError(fmt.Sprintf("Postmark error %v", reply["ErrorCode"]))
}
