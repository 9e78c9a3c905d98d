package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies a delivery failure.
type FailureKind int

// Delivery failure kinds.
const (
	// FailureTransient may succeed on a later attempt.
	FailureTransient FailureKind = iota
	// FailurePermanent means the recipient is unreachable until reconfigured.
	FailurePermanent
)

func (k FailureKind) String() string {
	if k == FailurePermanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError is returned by transports when a message could not be delivered.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failure: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a permanent delivery failure.
func Permanent(err error) error {
	return &DeliveryError{Kind: FailurePermanent, Err: err}
}

// Transient wraps err as a transient delivery failure.
func Transient(err error) error {
	return &DeliveryError{Kind: FailureTransient, Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
// Errors that carry no DeliveryError are treated as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind == FailurePermanent
	}
	return false
}
