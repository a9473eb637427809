package geoserver

import "fmt"

// TransientError is returned when every attempt against GeoServer failed at
// the transport level (connection refused, timeout). The call may succeed if
// repeated later; dispatch treats it as a dropped notification after alerting.
type TransientError struct {
	Attempts int
	Err      error // last transport error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("geoserver unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is returned when GeoServer answered with a terminal HTTP
// status. Received responses are never retried; whatever the server decided
// will not change on a replay of the same request.
type PermanentError struct {
	Operation string
	Status    int
	Body      string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("geoserver %s failed: HTTP %d: %s", e.Operation, e.Status, e.Body)
}
