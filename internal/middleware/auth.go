package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/auth"
)

// NameAuth is the configuration name of the authentication middleware.
const NameAuth = "auth"

// Auth verifies the Authorization header and attaches the entity_id and
// user_id lazy properties. Tokens are HS256 JWTs signed with the shared
// gateway key, presented behind a Bearer or Token prefix. A local instance
// accepts headerless requests on behalf of the configured default entity.
type Auth struct {
	gateway.PassMiddleware

	secret        string
	isLocal       bool
	defaultEntity string
	log           *zap.Logger
}

// NewAuth builds the middleware. The shared key must be configured.
func NewAuth(secret string, isLocal bool, defaultEntity string, log *zap.Logger) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("INTERNAL_GATEWAY_KEY needs to be present to use the auth middleware")
	}
	return &Auth{
		secret:        secret,
		isLocal:       isLocal,
		defaultEntity: defaultEntity,
		log:           log.With(zap.String("middleware", NameAuth)),
	}, nil
}

func (*Auth) Name() string { return NameAuth }

func (a *Auth) ProcessRequest(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	header := req.Transport.Header("Authorization")

	var token string
	for _, prefix := range []string{"Bearer", "Token"} {
		if _, after, found := strings.Cut(header, prefix); found {
			token = strings.TrimSpace(after)
			break
		}
	}

	switch {
	case token == "" && header != "":
		return nil, gateway.NewTokenMalformedError("")
	case token == "" && a.isLocal:
		a.log.Debug("no auth for local instance")
		a.attach(req, a.defaultEntity, a.defaultEntity)
		return nil, nil
	case token == "":
		return nil, gateway.NewUnauthorizedError("No authorization provided")
	}

	creds, err := auth.ParseCredentials(token, a.secret)
	if err != nil {
		return nil, gateway.NewTokenMalformedError(
			fmt.Sprintf("Unable to decode token. Value is: %s", token)).WithCause(err)
	}
	if creds.EntityID == "" {
		// A missing claim and a zero one both count as no entity.
		return nil, gateway.NewTokenMalformedError("entity_id in credentials is required")
	}

	a.attach(req, creds.EntityID, creds.UserID)
	return nil, nil
}

func (a *Auth) attach(req *gateway.Request, entityID, userID string) {
	req.AddLazyValue("entity_id", entityID)
	req.AddLazyValue("user_id", userID)
	req.AddLoggableProperty("entity_id", entityID)
}
