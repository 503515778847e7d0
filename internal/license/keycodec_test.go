package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "salespoint/internal/errors"
)

func TestGenerateKeyShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)

		assert.Len(t, key, 23, "key %q should be 23 characters", key)

		segments := strings.Split(key, "-")
		require.Len(t, segments, 4)
		for _, seg := range segments {
			assert.Len(t, seg, 5)
			for _, ch := range seg {
				assert.Contains(t, keyAlphabet, string(ch))
			}
		}
	}
}

func TestGeneratedKeysCarryValidChecksums(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)

		segments, err := ParseKey(key)
		require.NoError(t, err)

		for _, seg := range segments {
			expected, err := SegmentChecksum(seg[:4])
			require.NoError(t, err)
			assert.Equal(t, expected, seg[4], "checksum of segment %q in key %q", seg, key)
		}
	}
}

func TestSegmentChecksum(t *testing.T) {
	tests := []struct {
		name string
		data string
		want byte
	}{
		// A=0, so AAAA sums to 0.
		{name: "all A", data: "AAAA", want: 'A'},
		// B=1 four times = 4 -> E.
		{name: "all B", data: "BBBB", want: 'E'},
		// 9 is index 35; 4*35 = 140; 140 mod 36 = 32 -> '6'.
		{name: "all nines", data: "9999", want: '6'},
		// A+B+C+D = 0+1+2+3 = 6 -> G.
		{name: "ascending letters", data: "ABCD", want: 'G'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SegmentChecksum(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSegmentChecksumDeterministic(t *testing.T) {
	first, err := SegmentChecksum("K7Q2")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SegmentChecksum("K7Q2")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSegmentChecksumRejectsForeignCharacters(t *testing.T) {
	_, err := SegmentChecksum("ab!d")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMalformedKey)
}

func TestParseKey(t *testing.T) {
	valid, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "generated key", key: valid, wantErr: false},
		{name: "too few segments", key: "AAAAA-BBBBB-CCCCC", wantErr: true},
		{name: "too many segments", key: "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE", wantErr: true},
		{name: "short segment", key: "AAAA-BBBBB-CCCCC-DDDDD", wantErr: true},
		{name: "lowercase", key: "aaaaa-bbbbb-ccccc-ddddd", wantErr: true},
		{name: "punctuation", key: "AAAA!-BBBBB-CCCCC-DDDDD", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := ParseKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrMalformedKey)
				return
			}
			require.NoError(t, err)
			assert.Len(t, segments, 4)
		})
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "ABCD****WXYZ", MaskKey("ABCDE-FGHIJ-KLMNO-PWXYZ"))
	assert.Equal(t, "****", MaskKey("short"))
	assert.Equal(t, "****", MaskKey(""))
}
