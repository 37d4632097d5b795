package domains

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
	"github.com/semilimes/sgateway/pkg/json"
)

// GoDaddy sells and manages domains through the GoDaddy v1 API.
//
// https://developer.godaddy.com/doc#!/_v1_domains/available
type GoDaddy struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client

	// companyContact fills the technical and billing contacts on every
	// purchase.
	companyContact map[string]interface{}
}

// NewGoDaddy builds the provider. The company contact document comes from
// configuration and a broken one is a deploy problem, so it fails fast.
func NewGoDaddy(cfg *config.Config, client *upstream.Client, log *zap.Logger) (*GoDaddy, error) {
	var contact map[string]interface{}
	if err := json.Unmarshal([]byte(cfg.CompanyContactJSON), &contact); err != nil {
		return nil, errors.Wrap(err, "parse COMPANY_CONTACT")
	}

	p := &GoDaddy{
		BaseProvider:   gateway.NewBaseProvider("godaddy", "GoDaddy", log),
		cfg:            cfg,
		client:         client,
		companyContact: contact,
	}
	p.Handle("check_availability", p.checkAvailability)
	p.Handle("get_registration_extra_fields", p.registrationExtraFields)
	p.Handle("validate_registration_data", p.validateRegistrationData)
	p.Handle("create_client_account", p.createClientAccount)
	p.Handle("purchase_domain", p.purchaseDomain)
	p.Handle("update_dns_records", p.updateDNSRecords)
	return p, nil
}

func (p *GoDaddy) authHeaders() (map[string]string, error) {
	if err := p.RequireConfig("GODADDY_KEY", p.cfg.GodaddyKey); err != nil {
		return nil, err
	}
	if err := p.RequireConfig("GODADDY_SECRET", p.cfg.GodaddySecret); err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": fmt.Sprintf("sso-key %s:%s", p.cfg.GodaddyKey, p.cfg.GodaddySecret),
	}, nil
}

func (p *GoDaddy) checkAvailability(ctx context.Context, args interface{}) (interface{}, error) {
	domain, _ := args.(string)

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodGet,
		URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "domains", "available"),
		Query:   url.Values{"domain": {domain}, "checkType": {"full"}},
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		p.Log().Error("Bad Provider's API response", zap.ByteString("body", resp.Body))
		return nil, gateway.NewProviderError("Bad Provider's API response")
	}

	var reply struct {
		Available bool    `json:"available"`
		Price     float64 `json:"price"`
		Currency  string  `json:"currency"`
		Period    int     `json:"period"`
	}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError("Bad Provider's API response").WithCause(err)
	}
	if reply.Period != 1 {
		return nil, gateway.NewServiceInternalError("Domain price provided is not per-year based.")
	}
	return &Availability{
		Available: reply.Available,
		Price:     decimal.NewFromFloat(reply.Price),
		Currency:  reply.Currency,
	}, nil
}

// registrationExtraFields asks which legal agreements the domain's zone
// requires and exposes them as one extra form field holding agreement keys.
func (p *GoDaddy) registrationExtraFields(ctx context.Context, args interface{}) (interface{}, error) {
	domain, _ := args.(string)

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodGet,
		URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "domains", "agreements"),
		Query:   url.Values{"tlds": {domainZone(domain)}, "privacy": {"0"}},
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		if err := resp.JSON(&failure); err != nil {
			return nil, gateway.NewProviderError("Bad Provider's API response").WithCause(err)
		}
		return nil, gateway.NewProviderError(failure.Message)
	}

	var agreements []struct {
		AgreementKey string `json:"agreementKey"`
	}
	if err := resp.JSON(&agreements); err != nil {
		return nil, gateway.NewProviderError("Bad Provider's API response").WithCause(err)
	}

	extra := map[string]interface{}{}
	if len(agreements) > 0 {
		keys := make([]string, 0, len(agreements))
		for _, agreement := range agreements {
			keys = append(keys, agreement.AgreementKey)
		}
		extra["agreed_agreements"] = map[string]interface{}{
			"type":        "array",
			"description": "",
			"items": map[string]interface{}{
				"type": "string",
				"enum": keys,
			},
		}
	}
	return extra, nil
}

// adoptPurchaseData shapes a validated registration form into the purchase
// document GoDaddy expects. The registrant doubles as the admin contact; the
// company contact covers tech and billing.
func (p *GoDaddy) adoptPurchaseData(domain string, data map[string]interface{}, clientIP string) map[string]interface{} {
	registrant, _ := data["registrant_contact"].(map[string]interface{})
	return map[string]interface{}{
		"domain":      domain,
		"renewAuto":   false,
		"privacy":     false,
		"nameServers": []interface{}{},
		"period":      1,
		"consent": map[string]interface{}{
			"agreementKeys": data["agreed_agreements"],
			"agreedBy":      clientIP,
			"agreedAt":      time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		},
		"contactRegistrant": formatContact(registrant),
		"contactAdmin":      formatContact(registrant),
		"contactTech":       formatContact(p.companyContact),
		"contactBilling":    formatContact(p.companyContact),
	}
}

func (p *GoDaddy) validateRegistrationData(ctx context.Context, args interface{}) (interface{}, error) {
	a, ok := args.(ValidationArgs)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected validation arguments")
	}

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "domains", "purchase", "validate"),
		Headers: headers,
		JSON:    p.adoptPurchaseData(a.Domain, a.Data, a.ClientIP),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		p.Log().Error("Bad Provider's API response", zap.ByteString("body", resp.Body))
		return nil, gateway.NewProviderError("Bad Provider's API response")
	}
	return true, nil
}

// createClientAccount creates a GoDaddy subaccount for the entity.
//
// https://developer.godaddy.com/doc#!/_v1_shoppers/Shopper_createSubaccount
func (p *GoDaddy) createClientAccount(ctx context.Context, args interface{}) (interface{}, error) {
	a, ok := args.(AccountArgs)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected account arguments")
	}
	if err := p.RequireConfig("DOMAINS_CLIENT_ACCOUNT_PASSWORD", p.cfg.DomainsClientAccountPassword); err != nil {
		return nil, err
	}
	clientID, err := strconv.Atoi(a.EntityID)
	if err != nil {
		return nil, gateway.NewServiceInternalError("GoDaddy require client_id to be int")
	}

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	registrant, _ := a.Data["registrant_contact"].(map[string]interface{})
	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "shoppers", "subaccount"),
		Headers: headers,
		JSON: map[string]interface{}{
			"email":      str(registrant["email"]),
			"password":   p.cfg.DomainsClientAccountPassword,
			"nameFirst":  str(registrant["first_name"]),
			"nameLast":   str(registrant["last_name"]),
			"externalId": clientID,
			"marketId":   "en-US",
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, gateway.NewProviderError("").WithPayload(map[string]interface{}{
			"response_body": string(resp.Body),
		})
	}

	var account map[string]interface{}
	if err := resp.JSON(&account); err != nil {
		return nil, gateway.NewProviderError("Bad Provider's API response").WithCause(err)
	}
	return account, nil
}

func (p *GoDaddy) purchaseDomain(ctx context.Context, args interface{}) (interface{}, error) {
	a, ok := args.(PurchaseArgs)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected purchase arguments")
	}
	if len(a.AccountData) == 0 {
		return nil, gateway.NewServiceInternalError("GoDaddy subaccount data is required")
	}

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	headers["X-Shopper-Id"] = str(a.AccountData["shopperId"])

	resp, err := p.client.Do(ctx, upstream.RequestSpec{
		Method:  http.MethodPost,
		URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "domains", "purchase"),
		Headers: headers,
		JSON:    p.adoptPurchaseData(a.Domain, a.Data, a.ClientIP),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		if err := resp.JSON(&failure); err != nil {
			p.Log().Error("Unknown registration API response", zap.ByteString("body", resp.Body))
			return nil, gateway.NewProviderError("Bad Provider's API response")
		}
		return nil, gateway.NewProviderError(failure.Message)
	}

	var reply map[string]interface{}
	if err := resp.JSON(&reply); err != nil {
		return nil, gateway.NewProviderError("Bad Provider's API response").WithCause(err)
	}

	price := decimal.NullDecimal{}
	if total, ok := reply["total"].(float64); ok {
		price = decimal.NullDecimal{Decimal: decimal.NewFromFloat(total), Valid: true}
	}
	return &PurchaseResult{
		UID:      uidString(reply["orderId"]),
		Price:    price,
		Currency: str(reply["currency"]),
	}, nil
}

func (p *GoDaddy) updateDNSRecords(ctx context.Context, args interface{}) (interface{}, error) {
	a, ok := args.(DNSUpdateArgs)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected dns update arguments")
	}

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	headers["X-Shopper-Id"] = str(a.AccountData["shopperId"])

	// GoDaddy cannot replace the whole record set in one call without NS
	// records in it, so records go up one type at a time.
	// https://developer.godaddy.com/doc#!/_v1_domains/recordReplaceType
	var order []string
	byType := make(map[string][]DNSRecord)
	for _, record := range a.Records {
		if _, seen := byType[record.Type]; !seen {
			order = append(order, record.Type)
		}
		byType[record.Type] = append(byType[record.Type], record)
	}

	for _, recordType := range order {
		resp, err := p.client.Do(ctx, upstream.RequestSpec{
			Method:  http.MethodPut,
			URL:     upstream.JoinURL(p.cfg.GodaddyAPIURL, "domains", a.Domain, "records", recordType),
			Headers: headers,
			JSON:    byType[recordType],
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			p.Log().Error("GoDaddy DNS update error", zap.ByteString("body", resp.Body))
			return nil, newDomainNotReadyError(
				fmt.Sprintf("Domain %s is not available for DNS updating", a.Domain))
		}
		if resp.StatusCode != http.StatusOK {
			var failure struct {
				Message string `json:"message"`
			}
			if err := resp.JSON(&failure); err != nil {
				p.Log().Error("Unknown dns update API response", zap.ByteString("body", resp.Body))
				return nil, gateway.NewProviderError("Bad Provider's API response")
			}
			p.Log().Error("GoDaddy DNS update error", zap.String("message", failure.Message))
			return nil, gateway.NewProviderError("").WithPayload(map[string]interface{}{
				"response_message": failure.Message,
			})
		}
	}
	return true, nil
}

// formatPhone renders a phone document as the +CC.NUMBER form GoDaddy wants.
// Anything already flat passes through.
func formatPhone(v interface{}) string {
	phone, ok := v.(map[string]interface{})
	if !ok {
		return str(v)
	}
	return fmt.Sprintf("%s.%s", str(phone["country_code"]), str(phone["global_number"]))
}

func formatContact(contact map[string]interface{}) map[string]interface{} {
	address, _ := contact["mailing_address"].(map[string]interface{})
	return map[string]interface{}{
		"nameFirst":    str(contact["first_name"]),
		"nameMiddle":   str(contact["middle_name"]),
		"nameLast":     str(contact["last_name"]),
		"organization": str(contact["organization"]),
		"jobTitle":     str(contact["job_title"]),
		"email":        str(contact["email"]),
		"phone":        formatPhone(contact["phone"]),
		"fax":          formatPhone(contact["fax"]),
		"addressMailing": map[string]interface{}{
			"address1":   str(address["address1"]),
			"address2":   str(address["address2"]),
			"city":       str(address["city"]),
			"state":      str(address["state"]),
			"postalCode": str(address["postal_code"]),
			"country":    str(address["country"]),
		},
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// uidString renders a provider order id, numeric or not, as text.
func uidString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
