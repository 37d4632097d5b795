// Package domains exposes domain availability checks and a multi-step
// registration flow: a client declares an intention to buy a domain, fills
// the registrar's form, and the gateway purchases the domain and sets up its
// DNS through the selected registrar.
package domains

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/repository"
)

// Name is the service name requests are routed by.
const Name = "domains"

// Publisher sends service call messages to the queue fabric.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Availability is a registrar's answer to a domain availability check.
type Availability struct {
	Available bool            `json:"available"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
}

// PurchaseResult is what a registrar reports after a successful purchase.
type PurchaseResult struct {
	UID      string
	Price    decimal.NullDecimal
	Currency string
}

// ValidationArgs carry a registration form to a registrar-side validation.
type ValidationArgs struct {
	Domain   string
	Data     map[string]interface{}
	ClientIP string
}

// AccountArgs carry what a registrar needs to create a client account.
type AccountArgs struct {
	Data     map[string]interface{}
	EntityID string
}

// PurchaseArgs carry a validated registration form to the purchase call.
type PurchaseArgs struct {
	Domain      string
	Data        map[string]interface{}
	ClientIP    string
	AccountData map[string]interface{}
}

// DNSRecord is one record to install in a registrar's DNS zone.
type DNSRecord struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// DNSUpdateArgs carry a record set to a registrar's DNS update call.
type DNSUpdateArgs struct {
	Domain      string
	Records     []DNSRecord
	AccountData map[string]interface{}
}

type service struct {
	repo      *repository.DomainsRepository
	publisher Publisher
	zones     map[string]string
	log       *zap.Logger
}

// NewService assembles the domains service over the given registrars. The
// zones pricelist and queue publisher come from the caller, so tests can
// substitute both.
func NewService(providers []gateway.Provider, repo *repository.DomainsRepository,
	publisher Publisher, cfg *config.Config, log *zap.Logger,
) (*gateway.Service, error) {
	s := &service{
		repo:      repo,
		publisher: publisher,
		zones:     cfg.DomainZonesPricelist,
		log:       log,
	}
	return gateway.NewService(gateway.ServiceConfig{
		Name:        Name,
		VerboseName: "Domains registration and management",
		Providers:   providers,
		Methods: []*gateway.Method{
			{Name: "check_availability", HTTPMethod: http.MethodGet, Handler: s.checkAvailability},
			{Name: "create_registration_intention", HTTPMethod: http.MethodGet, Handler: s.createRegistrationIntention},
			{Name: "submit_registration_intention", HTTPMethod: http.MethodPost, Handler: s.submitRegistrationIntention},
			{Name: "update_registered_dns", HTTPMethod: http.MethodPost, Webhook: true, Handler: s.updateRegisteredDNS},
		},
	}, log)
}

func (s *service) checkAvailability(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	domain := req.Arg("domain")
	if domain == "" {
		return nil, gateway.NewBadRequestError("domain is required")
	}

	price, err := s.domainPrice(domain)
	if err != nil {
		return nil, err
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		RequiredMethods: []string{"check_availability"},
	})
	if err != nil {
		return nil, err
	}

	result, err := prov.Call(ctx, "check_availability", domain)
	if err != nil {
		return nil, err
	}
	availability, ok := result.(*Availability)
	if !ok {
		return nil, gateway.NewInternalError("Unexpected availability response")
	}

	// The fixed zone price is quoted, not the registrar's own price.
	var fixedPrice interface{}
	if availability.Available {
		fixedPrice = price
	}
	return gateway.NewResponse(map[string]interface{}{
		"price":     fixedPrice,
		"available": availability.Available,
	}), nil
}

func (s *service) createRegistrationIntention(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	entityID, err := req.EntityID(ctx)
	if err != nil {
		return nil, gateway.NewServiceRestrictedError("No entity_id")
	}

	domain := req.Arg("domain")
	if domain == "" {
		return nil, gateway.NewBadRequestError("Domain arg is required")
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{
		Strategy: RegistrantStrategy{Domain: domain},
	})
	if err != nil {
		return nil, err
	}

	schema, err := registrationSchema(ctx, prov, domain)
	if err != nil {
		return nil, err
	}

	intentionID, err := s.repo.CreateIntention(ctx, domain, entityID, prov.Name())
	if err != nil {
		return nil, err
	}

	return gateway.NewResponse(map[string]interface{}{
		"intention_id": intentionID,
		"schema":       schema,
	}).WithStatus(http.StatusCreated), nil
}

func (s *service) submitRegistrationIntention(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	rawID := req.Arg("intention_id")
	entityID, err := req.EntityID(ctx)
	if err != nil {
		return nil, err
	}

	if rawID == "" {
		return nil, gateway.NewBadRequestError("intention_id is required")
	}
	intentionID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, gateway.NewBadRequestError("Intention not found")
	}

	intention, err := s.repo.Intention(ctx, intentionID)
	if err != nil {
		return nil, err
	}
	if intention == nil {
		return nil, gateway.NewBadRequestError("Intention not found")
	}
	if intention.EntityID != entityID {
		return nil, gateway.NewUnauthorizedError(fmt.Sprintf("%s %s", intention.EntityID, entityID))
	}

	// Never a fresh provider selection here: the one recorded on the
	// intention quoted the price the client agreed to.
	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{Name: intention.Provider})
	if err != nil {
		return nil, err
	}

	if intention.Finished {
		return gateway.NewResponse(map[string]interface{}{
			"domain":     intention.Domain,
			"registered": true,
		}).WithStatus(http.StatusNotModified).WithFulfilled(false), nil
	}

	if err := s.newWorkflow(req, intention, prov).Execute(ctx); err != nil {
		return nil, err
	}

	return gateway.NewResponse(map[string]interface{}{
		"domain":     intention.Domain,
		"registered": true,
	}).WithStatus(http.StatusCreated), nil
}

// updateRegisteredDNS installs DNS records on a freshly purchased domain.
// It arrives over the queue, so a registrar that is not ready yet answers
// with a retry-suggested error and the message is redelivered.
func (s *service) updateRegisteredDNS(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	data, err := req.Data(ctx)
	if err != nil {
		return nil, err
	}

	var payload struct {
		IntentionID int64 `mapstructure:"intention_id"`
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &payload,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, gateway.NewBadRequestError("Intention not found").WithCause(err)
	}

	intention, err := s.repo.Intention(ctx, payload.IntentionID)
	if err != nil {
		return nil, err
	}
	if intention == nil {
		return nil, gateway.NewBadRequestError("Intention not found")
	}

	prov, err := req.Service.GetProvider(ctx, req, gateway.ProviderQuery{Name: intention.Provider})
	if err != nil {
		return nil, err
	}

	if err := s.newWorkflow(req, intention, prov).UpdateDNS(ctx); err != nil {
		if errors.Is(err, errDomainNotReady) {
			unavailable := gateway.NewServiceUnavailableError("")
			unavailable.ClientRetry = true
			return nil, unavailable.WithCause(err)
		}
		return nil, err
	}
	return gateway.NewResponse(nil), nil
}

// domainPrice is the fixed yearly price of the domain's zone.
func (s *service) domainPrice(domain string) (decimal.Decimal, error) {
	zone := domainZone(domain)
	raw, ok := s.zones[zone]
	if !ok {
		return decimal.Decimal{}, gateway.NewBadRequestError("Domain zone is not supported")
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, gateway.NewInternalError(
			fmt.Sprintf("Bad price configured for zone '%s'", zone))
	}
	return price, nil
}

// domainZone is the registry zone of a domain name, its part after the last
// dot.
func domainZone(domain string) string {
	parts := strings.Split(domain, ".")
	return parts[len(parts)-1]
}
