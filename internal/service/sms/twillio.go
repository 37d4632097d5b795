package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

const twillioAPIURL = "https://api.twilio.com/2010-04-01/"

// Twillio delivers through the Twilio messaging API.
// https://www.twilio.com/docs/api/messaging/send-messages
type Twillio struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client
	apiURL string
}

// NewTwillio builds the Twillio provider.
func NewTwillio(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Twillio {
	p := &Twillio{
		BaseProvider: gateway.NewBaseProvider("twillio", "Twillio", log),
		cfg:          cfg,
		client:       client,
		apiURL:       twillioAPIURL,
	}
	p.Handle("send_sms", p.sendSMS)
	return p
}

func (p *Twillio) sendSMS(ctx context.Context, args interface{}) (interface{}, error) {
	if err := p.RequireConfig("TWILLIO_SID", p.cfg.TwillioSID); err != nil {
		return nil, err
	}
	if err := p.RequireConfig("TWILLIO_TOKEN", p.cfg.TwillioToken); err != nil {
		return nil, err
	}
	data, ok := args.(map[string]interface{})
	if !ok {
		return nil, gateway.NewInternalError("sms payload must be an object")
	}

	sender, _ := data["sender"].(map[string]interface{})
	from, _ := sender["value"].(string)
	to, _ := data["to_number"].(string)
	body, _ := data["body"].(string)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.apiURL, "Accounts", p.cfg.TwillioSID, "Messages.json"),
		Headers: map[string]string{"Accept": "application/json"},
		Auth:    &upstream.BasicAuth{Username: p.cfg.TwillioSID, Password: p.cfg.TwillioToken},
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
	if sid, _ := reply["sid"].(string); sid != "" {
		p.Log().Debug("SMS successfully sent", zap.String("sid", sid))
		return true, nil
	}
	return nil, gateway.NewProviderError(
		fmt.Sprintf("Twillio error: %v. Details: %v", reply["error_code"], reply))
}
