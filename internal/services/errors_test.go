package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(ErrUnavailable, "separation", "invoke separator", "request failed", base)

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "fusion", "persist progress", "store write failed", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient default, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Wrap(ErrUnavailable, "s", "op", "down", nil), true},
		{Wrap(ErrTransient, "s", "op", "busy", nil), true},
		{Wrap(ErrService, "s", "op", "unsupported codec", nil), false},
		{Wrap(ErrValidation, "s", "op", "missing track", nil), false},
		{Wrap(ErrTimeout, "s", "op", "soft limit", nil), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	timeout := Wrap(ErrTimeout, "enhancement", "invoke enhancer", "soft limit exceeded", nil)
	if got := FailureReason(timeout); got != ReasonTimedOut {
		t.Fatalf("FailureReason(timeout) = %q, want %q", got, ReasonTimedOut)
	}

	svc := Wrap(ErrService, "separation", "invoke separator", "unsupported codec", nil)
	got := FailureReason(svc)
	if got != "separation: invoke separator: unsupported codec" {
		t.Fatalf("FailureReason(service) = %q", got)
	}
}

func TestDetailsTrimsSentinelPrefix(t *testing.T) {
	err := Wrap(ErrService, "separation", "", "unsupported codec", nil)
	if got := Details(err); got != "separation: unsupported codec" {
		t.Fatalf("Details = %q", got)
	}

	plain := fmt.Errorf("no marker here")
	if got := Details(plain); got != "no marker here" {
		t.Fatalf("Details(plain) = %q", got)
	}
}
