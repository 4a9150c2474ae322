package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindUpstreamHTTP Kind = "upstream_http"
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network"
	KindOversize     Kind = "oversize"
)

const (
	timeoutMessage = "Request timed out. The file processing is taking longer than expected. " +
		"The workflow may still be running; try a smaller file."
	networkMessage = "Could not connect to the workflow webhook - make sure it is running"

	maxSnippet = 500
)

// Error is a classified relay failure.
type Error struct {
	Kind    Kind
	Status  int
	Body    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamHTTP:
		return fmt.Sprintf("Upstream error: %d - %s", e.Status, e.Body)
	case KindTimeout:
		return timeoutMessage
	case KindNetwork:
		return networkMessage
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Describe maps any relay error to the message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindOf reports the relay error kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// HTTPStatus picks the status the proxy route answers with for err.
func HTTPStatus(err error) int {
	var re *Error
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Kind {
	case KindValidation:
		if re.Status != 0 {
			return re.Status
		}
		return http.StatusBadRequest
	case KindOversize:
		return http.StatusRequestEntityTooLarge
	case KindUpstreamHTTP:
		return re.Status
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func validationError(status int, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Status: status, Message: fmt.Sprintf(format, args...)}
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > maxSnippet {
		return body[:maxSnippet] + "..."
	}
	return body
}
