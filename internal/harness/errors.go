package harness

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// TransportErrorKind classifies a failed HTTP interaction.
type TransportErrorKind string

const (
	// TransportConnection is any transport failure, TLS ones included.
	TransportConnection TransportErrorKind = "connection"
	// TransportTLS is a handshake or certificate failure.
	TransportTLS TransportErrorKind = "tls"
	// TransportDisconnect is an abort injected by a chunk.
	TransportDisconnect TransportErrorKind = "disconnect"
)

// Valid reports whether k is a known kind.
func (k TransportErrorKind) Valid() bool {
	switch k {
	case TransportConnection, TransportTLS, TransportDisconnect:
		return true
	}
	return false
}

// Matches reports whether an observed failure of kind actual satisfies a
// declared expectation of kind k.
func (k TransportErrorKind) Matches(actual TransportErrorKind) bool {
	if k == actual {
		return true
	}
	return k == TransportConnection && actual == TransportTLS
}

// errInjectedDisconnect aborts a request body on a fail chunk.
var errInjectedDisconnect = errors.New("connection closed by harness")

// TransportError is a classified failure of an HTTP interaction.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyTransportError maps a client error to its kind. The caller knows
// whether it injected a disconnect, whatever error the client surfaced.
func classifyTransportError(err error, injected bool) *TransportError {
	if injected {
		return &TransportError{Kind: TransportDisconnect, Err: err}
	}

	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		authorityEr x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authorityEr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return &TransportError{Kind: TransportTLS, Err: err}
	}
	return &TransportError{Kind: TransportConnection, Err: err}
}

// ExpectationError reports a violated expectation with the value that
// did not match.
type ExpectationError struct {
	// Expectation is the kind of check, e.g. "status" or "log".
	Expectation string
	Want        string
	Got         string
	Err         error
}

func (e *ExpectationError) Error() string {
	switch {
	case e.Err != nil && e.Want != "":
		return fmt.Sprintf("%s expectation %s: %v", e.Expectation, e.Want, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s expectation: %v", e.Expectation, e.Err)
	default:
		return fmt.Sprintf("%s expectation: want %s, got %s", e.Expectation, e.Want, e.Got)
	}
}

func (e *ExpectationError) Unwrap() error { return e.Err }
