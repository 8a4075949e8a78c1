package commerce

import (
	"errors"
	"strings"
)

// CodeNotAuthorized is the extension code the backend uses for authorization failures.
const CodeNotAuthorized = "AUTH_NOT_AUTHORIZED"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("commerce: not found")

// GraphQLError mirrors one entry of the GraphQL "errors" array.
type GraphQLError struct {
	Message    string   `json:"message"`
	Path       []any    `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions"`
}

// Errors is returned alongside partial data when the response carried GraphQL errors.
type Errors []GraphQLError

func (e Errors) Error() string {
	msgs := e.Messages()
	if len(msgs) == 0 {
		return "commerce: graphql error"
	}
	return "commerce: " + strings.Join(msgs, "; ")
}

// Messages returns the non-empty error messages.
func (e Errors) Messages() []string {
	out := make([]string, 0, len(e))
	for _, item := range e {
		if msg := strings.TrimSpace(item.Message); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// NewError builds a single GraphQL error with the given extension code.
func NewError(message, code string) Errors {
	item := GraphQLError{Message: message}
	item.Extensions.Code = code
	return Errors{item}
}

// IsUnauthorized reports whether err carries the authorization failure code.
func IsUnauthorized(err error) bool {
	var gqlErrs Errors
	if !errors.As(err, &gqlErrs) {
		return false
	}
	for _, item := range gqlErrs {
		if item.Extensions.Code == CodeNotAuthorized {
			return true
		}
	}
	return false
}

// Messages extracts displayable messages from err. GraphQL errors keep their messages; any other
// error yields a single generic entry.
func Messages(err error, generic string) []string {
	if err == nil {
		return nil
	}
	var gqlErrs Errors
	if errors.As(err, &gqlErrs) {
		if msgs := gqlErrs.Messages(); len(msgs) > 0 {
			return msgs
		}
	}
	return []string{generic}
}
