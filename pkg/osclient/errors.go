package osclient

import "fmt"

// APIError is returned for any OpenSearch REST response in the 4xx/5xx
// range, mirroring elastic-cloud-on-k8s's own
// pkg/controller/elasticsearch/client APIError/IsAPIError shape.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opensearch returned status %d: %s", e.StatusCode, e.Body)
}

// IsAPIError reports whether err is an *APIError, the way ECK's
// IsAPIError helper does (error_test.go: nil and plain errors are
// false, any *APIError including a zero-value one is true).
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// IsNotFound reports whether err is an *APIError carrying a 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// IsConflict reports whether err is an *APIError carrying a 409, the
// optimistic-concurrency failure SM policy PUTs can hit on if_seq_no /
// if_primary_term mismatch.
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 409
}
