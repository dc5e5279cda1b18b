package feed

import (
	"errors"
	"fmt"
)

var (
	ErrParse  = errors.New("feed payload is not valid json")
	ErrSchema = errors.New("feed payload has unexpected shape")
)

// NetworkError covers transport failures, timeouts and non-2xx responses.
type NetworkError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Kind names the failure class for logs and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNetworkError(err):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrSchema):
		return "schema"
	default:
		return "other"
	}
}
