package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError represents an error returned by an upstream service
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the remote side.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
