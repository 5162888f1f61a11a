package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"512B", 512, false},
		{"64KiB", 64 * KiB, false},
		{"64ki", 64 * KiB, false},
		{"1MB", MB, false},
		{"2 GiB", 2 * GiB, false},
		{"1.5KiB", 1536, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10XB", 0, true},
		{"1.2.3K", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "0B", ByteSize(0).String())
	assert.Equal(t, "100B", ByteSize(100).String())
	assert.Equal(t, "4KiB", (4 * KiB).String())
	assert.Equal(t, "3MiB", (3 * MiB).String())
	assert.Equal(t, "1GiB", GiB.String())
	assert.Equal(t, "1000B", KB.String())
}

func TestTextRoundTrip(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("16KiB")))
	txt, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "16KiB", string(txt))
	assert.Error(t, b.UnmarshalText([]byte("nope")))
}
