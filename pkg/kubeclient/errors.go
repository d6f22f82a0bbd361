package kubeclient

import (
	"fmt"
)

// APIError is returned for any apiserver response in the 4xx/5xx range
// other than a plain 404, which Exists/Get treat as absence rather than
// an error.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kubernetes apiserver returned %s: %s", e.Status, e.Body)
}

// IsNotFound reports whether err represents a 404 from the apiserver.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// ErrExecCredentialsUnsupported is returned when a kubeconfig user stanza
// requires an exec credential plugin; this client rejects those rather
// than shelling out to an arbitrary plugin binary.
var ErrExecCredentialsUnsupported = fmt.Errorf("kubeconfig exec credential plugins are not supported")

// ErrWatchExpired is returned by Watch when the apiserver reports a 410
// Gone ("too old resource version"). This is fatal to the watch: the
// caller is expected to exit the process so a supervisor restarts it
// with a fresh LIST.
var ErrWatchExpired = fmt.Errorf("watch resourceVersion expired (410 Gone)")
