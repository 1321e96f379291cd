package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch was rejected.
type Kind int

const (
	KindOriginMismatch Kind = iota + 1
	KindTimeout
	KindNetwork
	KindHTTPStatus
	KindContentType
	KindMalformedBody
	KindSchemaMismatch
)

var kindNames = map[Kind]string{
	KindOriginMismatch: "origin_mismatch",
	KindTimeout:        "timeout",
	KindNetwork:        "network",
	KindHTTPStatus:     "http_status",
	KindContentType:    "content_type",
	KindMalformedBody:  "malformed_body",
	KindSchemaMismatch: "schema_mismatch",
}

// String is the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FetchError is returned for every rejected fetch.
type FetchError struct {
	Kind Kind
	// URL is the request URL with any credentials redacted.
	URL string
	// Status is the HTTP status for KindHTTPStatus and later kinds, else 0.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := "upstream " + e.Kind.String() + " " + e.URL
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether retrying later could succeed. Timeouts and
// network failures are treated the same by callers.
func (e *FetchError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindNetwork || (e.Kind == KindHTTPStatus && e.Status >= 500)
}

// KindOf returns the Kind of err, or 0 if err is not a *FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err is a *FetchError of kind k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
