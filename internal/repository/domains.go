package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DomainIntention is one row of domain_register_intention: an entity's
// declared intent to buy a domain through a chosen provider.
type DomainIntention struct {
	ID               int64
	Domain           string
	EntityID         string
	Provider         string
	RegistrationData map[string]interface{}
	Finished         bool
	Timestamp        int64
}

// RegistrantAccount is the per-entity account held at a registrar, GoDaddy
// subaccounts for instance.
type RegistrantAccount struct {
	ID          int64
	EntityID    string
	Provider    string
	AccountData map[string]interface{}
	IPAddress   string
	CreatedAt   int64
}

// Purchase describes a completed domain purchase to record.
type Purchase struct {
	IntentionID int64
	AccountID   sql.NullInt64
	ProviderUID string
	Price       decimal.NullDecimal
	Currency    string
}

// DomainsRepository persists the domain registration workflow state.
type DomainsRepository struct {
	*BaseRepository
}

// NewDomainsRepository creates the domains store.
func NewDomainsRepository(db *sql.DB, log *zap.Logger) *DomainsRepository {
	return &DomainsRepository{
		BaseRepository: NewBaseRepository(db, log.With(zap.String("module", "repository.domains"))),
	}
}

// CreateIntention inserts a registration intention and returns its id.
func (r *DomainsRepository) CreateIntention(ctx context.Context, domain, entityID, provider string) (int64, error) {
	var id int64
	err := r.WithinTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO domain_register_intention (domain, entity_id, provider, timestamp)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			domain, entityID, provider, time.Now().Unix()).Scan(&id)
	})
	return id, err
}

// Intention fetches an intention by id, nil when it does not exist.
func (r *DomainsRepository) Intention(ctx context.Context, id int64) (*DomainIntention, error) {
	row := r.DB().QueryRowContext(ctx,
		`SELECT id, domain, entity_id, provider, registration_data, finished, timestamp
		 FROM domain_register_intention
		 WHERE id = $1`, id)

	var (
		intention DomainIntention
		entityID  sql.NullString
		rawData   []byte
		finished  sql.NullBool
	)
	err := row.Scan(&intention.ID, &intention.Domain, &entityID, &intention.Provider,
		&rawData, &finished, &intention.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	intention.EntityID = entityID.String
	intention.Finished = finished.Bool
	if intention.RegistrationData, err = FromJSON(rawData); err != nil {
		return nil, err
	}
	return &intention, nil
}

// Account fetches the entity's registrant account at a provider, nil when
// none was created yet.
func (r *DomainsRepository) Account(ctx context.Context, provider, entityID string) (*RegistrantAccount, error) {
	row := r.DB().QueryRowContext(ctx,
		`SELECT id, entity_id, provider, account_data, ip_address, created_at
		 FROM domain_registrant_account
		 WHERE provider = $1 AND entity_id = $2`, provider, entityID)

	var (
		account RegistrantAccount
		rawData []byte
		ip      sql.NullString
	)
	err := row.Scan(&account.ID, &account.EntityID, &account.Provider,
		&rawData, &ip, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	account.IPAddress = ip.String
	if account.AccountData, err = FromJSON(rawData); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccount stores a freshly created registrant account and fills in
// its id.
func (r *DomainsRepository) CreateAccount(ctx context.Context, account *RegistrantAccount) error {
	rawData, err := ToJSON(account.AccountData)
	if err != nil {
		return err
	}
	return r.DB().QueryRowContext(ctx,
		`INSERT INTO domain_registrant_account (entity_id, provider, account_data, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		account.EntityID, account.Provider, rawData, account.IPAddress, time.Now().Unix(),
	).Scan(&account.ID)
}

// FinishPurchase marks the intention finished and records the purchase, in
// one transaction. The partial unique index on finished intentions rejects
// a second purchase of the same domain.
func (r *DomainsRepository) FinishPurchase(ctx context.Context, intentionID int64,
	registrationData map[string]interface{}, purchase Purchase,
) error {
	rawData, err := ToJSON(registrationData)
	if err != nil {
		return err
	}
	return r.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE domain_register_intention
			 SET finished = true, registration_data = $2
			 WHERE id = $1`,
			intentionID, rawData); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO domain_purchase
			 (intention_id, account_id, provider_purchase_uid, price, price_currency, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			intentionID, purchase.AccountID, purchase.ProviderUID,
			purchase.Price, purchase.Currency, time.Now().Unix())
		return err
	})
}

// CompletePostRegistration marks the purchase's DNS setup done.
func (r *DomainsRepository) CompletePostRegistration(ctx context.Context, intentionID int64) error {
	_, err := r.DB().ExecContext(ctx,
		`UPDATE domain_purchase
		 SET post_registration_complete = true
		 WHERE intention_id = $1`, intentionID)
	return err
}
