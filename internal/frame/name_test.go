package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tlv builds a single advertisement record.
func tlv(recType byte, value string) []byte {
	rec := []byte{byte(1 + len(value)), recType}
	return append(rec, value...)
}

func TestLocalName(t *testing.T) {
	flags := []byte{0x02, 0x01, 0x06} // flags record, no name

	tests := []struct {
		name   string
		raw    []byte
		want   string
		wantOK bool
	}{
		{
			name:   "complete local name",
			raw:    append(flags, tlv(0x09, "SmartScale")...),
			want:   "SmartScale",
			wantOK: true,
		},
		{
			name:   "shortened local name",
			raw:    tlv(0x08, "Scale"),
			want:   "Scale",
			wantOK: true,
		},
		{
			name:   "first name record wins",
			raw:    append(tlv(0x08, "Short"), tlv(0x09, "Complete")...),
			want:   "Short",
			wantOK: true,
		},
		{
			name:   "zero-length record terminates the stream",
			raw:    append([]byte{0x00}, tlv(0x09, "AfterEnd")...),
			wantOK: false,
		},
		{
			name:   "declared length past the payload is rejected",
			raw:    []byte{0x10, 0x09, 'X'},
			wantOK: false,
		},
		{
			name:   "no name records",
			raw:    flags,
			wantOK: false,
		},
		{
			name:   "empty payload",
			raw:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LocalName(tt.raw)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// GOAL: Name resolution prefers advertised name, then cached name, then a
// TLV-parsed name, and falls back to the placeholder; blank candidates are
// skipped at every step.
func TestResolveName(t *testing.T) {
	raw := tlv(0x09, "TLVName")

	tests := []struct {
		name       string
		advName    string
		cachedName string
		raw        []byte
		want       string
	}{
		{"advertised wins", "AdvName", "Cached", raw, "AdvName"},
		{"cached when advertised blank", "  ", "Cached", raw, "Cached"},
		{"tlv when both blank", "", "", raw, "TLVName"},
		{"placeholder when nothing resolves", "", "", nil, UnknownDeviceName},
		{"blank tlv value falls through", "", "", tlv(0x09, "   "), UnknownDeviceName},
		{"advertised is trimmed", " Scale X ", "", nil, "Scale X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveName(tt.advName, tt.cachedName, tt.raw))
		})
	}
}
