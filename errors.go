package fixtureio

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPinNotFound       = errors.New("gpio descriptor not found")
	ErrDirectionMismatch = errors.New("gpio direction mismatch")
)

// TransportError wraps any failure reported by the command transport.
type TransportError struct {
	Op  string
	Err error
}

func (te *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", te.Op, te.Err)
}

func (te *TransportError) Unwrap() error {
	return te.Err
}

type FailureKind int

const (
	KindNone FailureKind = iota
	KindResolution
	KindDirection
	KindTransport
	KindOther
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindResolution:
		return "resolution"
	case KindDirection:
		return "direction"
	case KindTransport:
		return "transport"
	}
	return "other"
}

// KindOf classifies an error returned by BoardControl.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrPinNotFound) {
		return KindResolution
	}
	if errors.Is(err, ErrDirectionMismatch) {
		return KindDirection
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindOther
}
