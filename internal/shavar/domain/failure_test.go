package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestFailureKind_String(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want string
	}{
		{FailureConnect, "connect"},
		{FailureHTTP, "http"},
		{FailureNetwork, "network"},
		{FailureKind(42), "FailureKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("FailureKind(%d).String() = %q; want %q", tt.kind, got, tt.want)
		}
	}
}

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, FailureConnect},
		{"wrapped deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), FailureConnect},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, FailureConnect},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, FailureConnect},
		{"network down", &net.OpError{Op: "dial", Err: syscall.ENETDOWN}, FailureNetwork},
		{"network unreachable", &net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, FailureNetwork},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, FailureNetwork},
		{"plain error", errors.New("boom"), FailureConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyNetError(tt.err); got != tt.want {
				t.Errorf("ClassifyNetError(%v) = %v; want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFetchError(t *testing.T) {
	inner := errors.New("connection reset by peer")
	fe := &FetchError{Kind: FailureConnect, Err: inner}

	if !errors.Is(fe, inner) {
		t.Error("FetchError should unwrap to the inner error")
	}
	if fe.Error() != "fetch failed (connect): connection reset by peer" {
		t.Errorf("unexpected message: %q", fe.Error())
	}
}
