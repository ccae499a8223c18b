package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidArgument", ErrInvalidArgument, "invalid argument"},
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrTenantUnknown", ErrTenantUnknown, "tenant unknown"},
		{"ErrTenantMisconfigured", ErrTenantMisconfigured, "tenant misconfigured"},
		{"ErrMissingCredentials", ErrMissingCredentials, "missing credentials"},
		{"ErrProviderRejected", ErrProviderRejected, "provider rejected"},
		{"ErrTransport", ErrTransport, "transport error"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrInternal", ErrInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{"ErrNotFound is ErrNotFound", ErrNotFound, ErrNotFound, true},
		{"wrapped ErrTransport is ErrTransport", fmt.Errorf("send sms: %w", ErrTransport), ErrTransport, true},
		{"wrapped ErrProviderRejected is ErrProviderRejected", fmt.Errorf("status 400: %w", ErrProviderRejected), ErrProviderRejected, true},
		{"ErrTransport is not ErrProviderRejected", ErrTransport, ErrProviderRejected, false},
		{"ErrMissingCredentials is not ErrTenantMisconfigured", ErrMissingCredentials, ErrTenantMisconfigured, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errors.Is(tt.err, tt.target) != tt.expected {
				t.Errorf("Expected errors.Is(%v, %v) to be %v", tt.err, tt.target, tt.expected)
			}
		})
	}
}
