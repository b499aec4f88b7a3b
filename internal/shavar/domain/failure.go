package domain

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// FailureKind classifies why a fetch failed. Each kind maps to its own
// backup host, so the classification decides which fallback is attempted.
type FailureKind uint8

const (
	// FailureConnect covers transport-level failures reaching the server:
	// refused or reset connections, DNS failures, and request timeouts.
	FailureConnect FailureKind = iota
	// FailureHTTP covers responses the server delivered but that are
	// unusable: non-2xx status codes and unparseable bodies.
	FailureHTTP
	// FailureNetwork covers OS-level network-down conditions.
	FailureNetwork
)

// String returns a stable string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureConnect:
		return "connect"
	case FailureHTTP:
		return "http"
	case FailureNetwork:
		return "network"
	default:
		return fmt.Sprintf("FailureKind(%d)", k)
	}
}

// FetchError wraps a transport error with its failure classification.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyNetError maps a transport error to a FailureKind. Timeouts count
// as connect failures; only hard network-down errno values count as
// network failures.
func ClassifyNetError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureConnect
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENETDOWN, syscall.ENETUNREACH, syscall.ENETRESET, syscall.EHOSTUNREACH:
			return FailureNetwork
		}
	}
	return FailureConnect
}
