package httpapi

import (
	"context"
	"errors"

	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/prompter"
	"github.com/opencmit/alphora/pkg/tool"
)

// requestError is a validation failure in the shape of an incoming request,
// as opposed to a failure further down in the agent loop.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func newRequestError(msg string) error { return &requestError{msg: msg} }

// classify maps an error to one of §7's error kinds (not Go type names) for
// the {error, session_id, timestamp} response body.
func classify(ctx context.Context, err error) string {
	var reqErr *requestError
	var transportErr *llm.TransportError
	var protocolErr *llm.ProtocolError
	var noBackendErr *llm.NoCompatibleBackendError
	var configErr *prompter.ConfigurationError
	var regErr *tool.RegistrationError
	var historyErr *memory.MalformedHistoryError
	var payloadErr *message.InvalidMultimodalPayloadError

	switch {
	case errors.As(err, &reqErr), errors.As(err, &historyErr), errors.As(err, &payloadErr):
		return "validation_error"
	case errors.As(err, &transportErr), errors.As(err, &noBackendErr):
		return "transport_error"
	case errors.As(err, &protocolErr):
		return "protocol_error"
	case errors.As(err, &configErr), errors.As(err, &regErr):
		return "configuration_error"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout_error"
	case errors.Is(ctx.Err(), context.Canceled):
		return "cancellation_error"
	default:
		return "internal_error"
	}
}
