package session_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blescale/internal/session"
)

func TestErrorsCarryTheirCause(t *testing.T) {
	cause := errors.New("att error 0x0e")

	tests := []struct {
		name     string
		err      error
		want     string
		bareCode bool
	}{
		{
			name: "scan error with code",
			err:  &session.ScanError{Code: 42, Err: cause},
			want: "scan failed (code 42): att error 0x0e",
		},
		{
			name:     "scan error without cause",
			err:      &session.ScanError{Code: 7},
			want:     "scan failed (code 7)",
			bareCode: true,
		},
		{
			name: "discovery error",
			err:  &session.DiscoveryError{Err: cause},
			want: "service discovery failed: att error 0x0e",
		},
		{
			name: "descriptor write error",
			err:  &session.DescriptorWriteError{Err: cause},
			want: "failed to enable notifications: att error 0x0e",
		},
		{
			name: "write error names the endpoint",
			err:  &session.WriteError{CharUUID: "ffe2", Err: cause},
			want: "write to ffe2 failed: att error 0x0e",
		},
		{
			name: "read error names the endpoint",
			err:  &session.ReadError{CharUUID: "ffe4", Err: cause},
			want: "read from ffe4 failed: att error 0x0e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			if !tt.bareCode {
				assert.ErrorIs(t, tt.err, cause, "Unwrap MUST expose the cause")
			}
		})
	}
}
