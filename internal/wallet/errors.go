package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound means no wallet answered at the configured location.
	ErrProviderNotFound = errors.New("wallet provider not found")
	// ErrConnectionRejected means the holder declined the connection or pairing.
	ErrConnectionRejected = errors.New("wallet connection rejected")
	// ErrUserRejected means the holder declined a request in the wallet.
	ErrUserRejected = errors.New("request rejected in wallet")
	// ErrRequestInFlight is returned when the provider is already serving a request.
	ErrRequestInFlight = errors.New("wallet request already in flight")
	// ErrNotConnected is returned by calls that need an established session.
	ErrNotConnected = errors.New("wallet not connected")
)

// ConnectionError is a failure to establish a session. Reason is
// ErrProviderNotFound or ErrConnectionRejected.
type ConnectionError struct {
	Reason error
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wallet connection: %v: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wallet connection: %v", e.Reason)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func NotFound(err error) error {
	return &ConnectionError{Reason: ErrProviderNotFound, Err: err}
}

func Rejected(err error) error {
	return &ConnectionError{Reason: ErrConnectionRejected, Err: err}
}

// TransportError is a failure to deliver a request or receive its answer,
// including cancellation and a closed session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wallet transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeserializationError means the wallet answered with something that could not be decoded.
type DeserializationError struct {
	What string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("wallet returned undecodable %s: %v", e.What, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}
