package domains

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/repository"
	"github.com/semilimes/sgateway/pkg/json"
)

// errDomainNotReady marks a registrar that cannot serve DNS updates for a
// domain yet. Registration settles asynchronously on the registrar side, so
// the caller is told to retry and the queue redelivers until it lands.
var errDomainNotReady = newDomainNotReadyError("")

func newDomainNotReadyError(message string) *gateway.Error {
	return gateway.NewError("DomainIsNotAvailableYet", "000", 400, "", message)
}

// DNS update retry knobs. The wait doubles after every failed attempt.
var dnsRetryInterval = 2 * time.Second

const dnsUpdateAttempts = 5

// RegistrationWorkflow drives a domain purchase: validate the client's form,
// make sure a registrar-side client account exists, purchase the domain and
// install DNS records on it. The purchase and the DNS setup run as separate
// stages glued together by a queue message, because registrars take unbounded
// time to make a fresh domain manageable.
type RegistrationWorkflow struct {
	repo      *repository.DomainsRepository
	publisher Publisher
	log       *zap.Logger

	req       *gateway.Request
	intention *repository.DomainIntention
	provider  gateway.Provider

	// Filled as the steps run.
	registrationData map[string]interface{}
	account          *repository.RegistrantAccount
}

func (s *service) newWorkflow(req *gateway.Request, intention *repository.DomainIntention,
	prov gateway.Provider,
) *RegistrationWorkflow {
	return &RegistrationWorkflow{
		repo:      s.repo,
		publisher: s.publisher,
		log:       s.log,
		req:       req,
		intention: intention,
		provider:  prov,
	}
}

// Execute runs the purchase stage and schedules the DNS setup stage.
func (w *RegistrationWorkflow) Execute(ctx context.Context) error {
	if err := w.validateData(ctx); err != nil {
		return err
	}
	if err := w.collectAccount(ctx, true); err != nil {
		return err
	}
	if err := w.purchase(ctx); err != nil {
		return err
	}
	return w.scheduleDNSUpdate(ctx)
}

// UpdateDNS runs the queue-driven DNS setup stage.
func (w *RegistrationWorkflow) UpdateDNS(ctx context.Context) error {
	if err := w.collectAccount(ctx, false); err != nil {
		return err
	}
	return w.setupDNS(ctx)
}

// validateData checks the submitted form against the registration schema of
// the intention's registrar and, when the registrar offers one, against its
// own validation endpoint. A form that passes here is considered good: later
// failures are either ours or the registrar's.
func (w *RegistrationWorkflow) validateData(ctx context.Context) error {
	schemaDoc, err := registrationSchema(ctx, w.provider, w.intention.Domain)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return err
	}
	schema, err := gateway.CompileSchema(string(raw))
	if err != nil {
		return err
	}

	data, err := w.req.Data(ctx)
	if err != nil {
		return err
	}
	if err := schema.Validate(data); err != nil {
		return err
	}

	if w.provider.HasMethod("validate_registration_data") {
		_, err := w.provider.Call(ctx, "validate_registration_data", ValidationArgs{
			Domain:   w.intention.Domain,
			Data:     data,
			ClientIP: w.req.ClientIP(),
		})
		if err != nil {
			return err
		}
	}

	w.registrationData = data
	return nil
}

// collectAccount loads the registrar-side account used for managing the
// entity's domains, creating one first when the registrar supports that.
// GoDaddy calls such accounts subaccounts.
func (w *RegistrationWorkflow) collectAccount(ctx context.Context, createMissing bool) error {
	account, err := w.repo.Account(ctx, w.provider.Name(), w.intention.EntityID)
	if err != nil {
		return err
	}

	if account == nil && createMissing && w.provider.HasMethod("create_client_account") {
		result, err := w.provider.Call(ctx, "create_client_account", AccountArgs{
			Data:     w.registrationData,
			EntityID: w.intention.EntityID,
		})
		if err != nil {
			if apiErr, ok := gateway.AsAPIError(err); ok && apiErr.Name == "ProviderError" {
				apiErr.Message = "Can not create client account on provider"
			}
			return err
		}
		accountData, _ := result.(map[string]interface{})

		account = &repository.RegistrantAccount{
			EntityID:    w.intention.EntityID,
			Provider:    w.provider.Name(),
			AccountData: accountData,
			IPAddress:   w.req.ClientIP(),
		}
		if err := w.repo.CreateAccount(ctx, account); err != nil {
			return err
		}
	}

	w.account = account
	return nil
}

func (w *RegistrationWorkflow) purchase(ctx context.Context) error {
	var accountData map[string]interface{}
	var accountID int64
	if w.account != nil {
		accountData = w.account.AccountData
		accountID = w.account.ID
	}

	result, err := w.provider.Call(ctx, "purchase_domain", PurchaseArgs{
		Domain: w.intention.Domain,
		Data:   w.registrationData,
		// The account keeps the ip it was created from; the purchase wants
		// the ip of the current request.
		ClientIP:    w.req.ClientIP(),
		AccountData: accountData,
	})
	if err != nil {
		return err
	}
	receipt, ok := result.(*PurchaseResult)
	if !ok {
		return gateway.NewInternalError("Unexpected purchase response")
	}

	return w.repo.FinishPurchase(ctx, w.intention.ID, w.registrationData, repository.Purchase{
		IntentionID: w.intention.ID,
		AccountID:   nullInt64(accountID),
		ProviderUID: receipt.UID,
		Price:       receipt.Price,
		Currency:    receipt.Currency,
	})
}

func (w *RegistrationWorkflow) scheduleDNSUpdate(ctx context.Context) error {
	return w.publisher.Publish(ctx, "sl.topic", "sgateway.service_call", map[string]interface{}{
		"service": w.req.Service.Name(),
		"version": w.req.Service.Version(),
		"method":  "update_registered_dns",
		"payload": map[string]interface{}{
			"intention_id": w.intention.ID,
		},
	})
}

// setupDNS installs the initial record set on the purchased domain. The
// registrar may not be ready right after the purchase and there is no way to
// know when it will be, so the records go up under a retry policy. When every
// attempt is refused the not-ready error surfaces and the queue message is
// redelivered to start over.
func (w *RegistrationWorkflow) setupDNS(ctx context.Context) error {
	records := []DNSRecord{
		{Type: "A", Name: "@", Data: "127.0.0.1"},
		{Type: "CNAME", Name: "www", Data: "some.semilimes.com"},
	}

	var accountData map[string]interface{}
	if w.account != nil {
		accountData = w.account.AccountData
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dnsRetryInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		_, err := w.provider.Call(ctx, "update_dns_records", DNSUpdateArgs{
			Domain:      w.intention.Domain,
			Records:     records,
			AccountData: accountData,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, errDomainNotReady) {
			return backoff.Permanent(err)
		}
		if attempts >= dnsUpdateAttempts {
			return backoff.Permanent(err)
		}
		w.log.Info("Domain is not ready for DNS update yet",
			zap.String("domain", w.intention.Domain),
			zap.Int("attempts_left", dnsUpdateAttempts-attempts),
		)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return err
	}

	if err := w.repo.CompletePostRegistration(ctx, w.intention.ID); err != nil {
		return err
	}
	w.log.Info("Domain DNS updated successfully", zap.String("domain", w.intention.Domain))
	return nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
