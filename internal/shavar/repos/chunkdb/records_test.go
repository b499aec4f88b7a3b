package chunkdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChunkPrefixes(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		hashLen int
		want    [][]byte
		wantErr bool
	}{
		{
			name:    "empty payload",
			payload: nil,
			hashLen: 4,
		},
		{
			name:    "zero count indexes the host key",
			payload: []byte("host\x00"),
			hashLen: 4,
			want:    [][]byte{[]byte("host")},
		},
		{
			name:    "single prefix",
			payload: []byte("host\x01fdaf"),
			hashLen: 4,
			want:    [][]byte{[]byte("fdaf")},
		},
		{
			name:    "multiple prefixes",
			payload: []byte("host\x02aaaabbbb"),
			hashLen: 4,
			want:    [][]byte{[]byte("aaaa"), []byte("bbbb")},
		},
		{
			name:    "multiple host records",
			payload: []byte("aaaa\x00bbbb\x01cccc"),
			hashLen: 4,
			want:    [][]byte{[]byte("aaaa"), []byte("cccc")},
		},
		{
			name:    "wider hashes",
			payload: []byte("host\x01aaaaaaaa"),
			hashLen: 8,
			want:    [][]byte{[]byte("aaaaaaaa")},
		},
		{
			name:    "truncated host record",
			payload: []byte("hos"),
			hashLen: 4,
			wantErr: true,
		},
		{
			name:    "truncated prefix list keeps earlier records",
			payload: []byte("aaaa\x00bbbb\x02cc"),
			hashLen: 4,
			want:    [][]byte{[]byte("aaaa")},
			wantErr: true,
		},
		{
			name:    "invalid hash length",
			payload: []byte("host\x01fdaf"),
			hashLen: 0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := addChunkPrefixes(tt.payload, tt.hashLen)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// Returned prefixes must not alias the payload buffer.
func TestAddChunkPrefixes_Copies(t *testing.T) {
	payload := []byte("host\x01fdaf")
	got, err := addChunkPrefixes(payload, 4)
	require.NoError(t, err)
	payload[5] = 'X'
	assert.Equal(t, []byte("fdaf"), got[0])
}
