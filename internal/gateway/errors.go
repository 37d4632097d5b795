// Package gateway implements the request-processing core: the service and
// provider registry, the request/response envelopes, the two-phase middleware
// pipeline, selection strategies, and the domain error taxonomy.
package gateway

import (
	"errors"
	"fmt"
)

// Error is the domain error carried through the pipeline and rendered to
// callers. Name and Code are stable wire identifiers.
type Error struct {
	Name        string
	Code        string
	Status      int
	Message     string
	Description string
	ClientRetry bool
	Payload     map[string]interface{}

	cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Description)
}

// Is matches errors of the same taxonomy name, so sentinel-style comparisons
// work on freshly constructed instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Name == e.Name
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithPayload attaches extra wire fields to the error body.
func (e *Error) WithPayload(payload map[string]interface{}) *Error {
	e.Payload = payload
	return e
}

// WithCause records the underlying error for logs without changing the wire
// body.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// ToMap renders the wire body. Payload keys come first so the standard fields
// always win; an empty message renders as JSON null.
func (e *Error) ToMap() map[string]interface{} {
	body := make(map[string]interface{}, len(e.Payload)+5)
	for k, v := range e.Payload {
		body[k] = v
	}
	var message interface{}
	if e.Message != "" {
		message = e.Message
	}
	body["message"] = message
	body["description"] = e.Description
	body["error_code"] = e.Code
	body["error_name"] = e.Name
	body["retry_suggested"] = e.ClientRetry
	return body
}

// AsAPIError extracts a domain error from err, unwrapping as needed.
func AsAPIError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// FromError coerces any error into a renderable domain error. Non-domain
// errors are masked as InternalError with the cause echoed in error_details.
func FromError(err error) *Error {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	return NewInternalError("").
		WithPayload(map[string]interface{}{"error_details": err.Error()}).
		WithCause(err)
}

// NewError builds a domain error outside the builtin catalog. Service
// packages use it for their own taxonomy entries.
func NewError(name, code string, status int, description, message string) *Error {
	return &Error{
		Name:        name,
		Code:        code,
		Status:      status,
		Description: description,
		Message:     message,
	}
}

// NewInternalError is the catch-all for gateway-side failures.
func NewInternalError(message string) *Error {
	return NewError("InternalError", "000", 500,
		"Something went wrong internally. Ask developers.", message)
}

// NewUnauthorizedError reports missing authorization.
func NewUnauthorizedError(message string) *Error {
	return NewError("UnauthorizedApiException", "001", 401, "Access Denied", message)
}

// NewUnauthenticatedError reports rejected credentials.
func NewUnauthenticatedError(message string) *Error {
	return NewError("UnauthenticatedApiException", "002", 403,
		"Not valid auth credentials or access denied", message)
}

// NewTokenMalformedError reports an undecodable or incomplete token.
func NewTokenMalformedError(message string) *Error {
	return NewError("TokenMalformed", "003", 403,
		"Token passed has invalid content", message)
}

// NewServiceUnavailableError reports a service that cannot take the request.
func NewServiceUnavailableError(message string) *Error {
	return NewError("ServiceUnavailable", "000", 400,
		"Service you requested can not be accessed at the moment", message)
}

// NewServiceNotFoundError reports an unknown service or method.
func NewServiceNotFoundError(message string) *Error {
	return NewError("ServiceNotFound", "004", 404,
		"Service you requested is not registered or method is unavailable", message)
}

// NewProviderUnavailableError reports that no provider can be selected.
func NewProviderUnavailableError(message string) *Error {
	return NewError("ProviderUnavailable", "005", 500,
		"Service you requested can not be accessed at the moment", message)
}

// NewServiceRestrictedError reports a service the caller may not use.
func NewServiceRestrictedError(message string) *Error {
	return NewError("ServiceRestricted", "006", 403,
		"Service not available for the requester", message)
}

// NewBadRequestError reports invalid request data or arguments.
func NewBadRequestError(message string) *Error {
	return NewError("ServiceBadRequestError", "007", 400,
		"Request data or args are invalid", message)
}

// NewIdempotencyError reports a duplicate request inside the lock window.
func NewIdempotencyError(message string) *Error {
	return NewError("RequestIdempotencyError", "007", 400,
		"Request is not idempotent", message)
}

// NewServiceInternalError reports a failure inside a service or provider.
func NewServiceInternalError(message string) *Error {
	return NewError("ServiceInternalError", "000", 500,
		"Request can not be processed because of service/provider problem", message)
}

// NewInsufficientFundsError reports a caller who cannot pay for the call.
func NewInsufficientFundsError(message string) *Error {
	return NewError("InsufficientFunds", "006", 403,
		"Service not available for the requester", message)
}

// NewFailoverFailError reports that every eligible provider failed. Clients
// are told to retry: a provider may recover.
func NewFailoverFailError() *Error {
	err := NewError("FailoverFailError", "000", 500,
		"Available providers was not able to handle request", "")
	err.ClientRetry = true
	return err
}

// NewProviderError reports a failure in provider operations.
func NewProviderError(message string) *Error {
	return NewError("ProviderError", "008", 500,
		"Error happened in provider operations", message)
}

// NewConfigurationError reports configuration a provider needs but lacks.
func NewConfigurationError(message string) *Error {
	return NewError("ConfigurationError", "009", 500,
		"System configuration can't satisfy provider needs", message)
}

const quotaDescription = "You've made too many requests. But quota resets every hour."

// NewTotalQuotaExceededError reports an exhausted account-wide quota.
func NewTotalQuotaExceededError(message string) *Error {
	return NewError("TotalQuotaExceeded", "021", 429, quotaDescription, message)
}

// NewServiceQuotaExceededError reports an exhausted per-service quota.
func NewServiceQuotaExceededError(message string) *Error {
	return NewError("ServiceQuotaExceeded", "022", 429, quotaDescription, message)
}
