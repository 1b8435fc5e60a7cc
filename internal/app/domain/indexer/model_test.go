package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprint_StableForSameSizeAndModTime(t *testing.T) {
	mt := time.Unix(1700000000, 0)
	require.Equal(t, Fingerprint(128, mt), Fingerprint(128, mt))
}

func TestFingerprint_DiffersWhenSizeChanges(t *testing.T) {
	mt := time.Unix(1700000000, 0)
	require.NotEqual(t, Fingerprint(128, mt), Fingerprint(129, mt))
}

func TestFingerprintWithContent_DiffersWhenContentChangesButMetadataDoesNot(t *testing.T) {
	mt := time.Unix(1700000000, 0)
	a := FingerprintWithContent(4, mt, []byte("abcd"))
	b := FingerprintWithContent(4, mt, []byte("wxyz"))
	require.NotEqual(t, a, b)
}

func TestContentHash_DeterministicAndDistinct(t *testing.T) {
	require.Equal(t, ContentHash("same text"), ContentHash("same text"))
	require.NotEqual(t, ContentHash("same text"), ContentHash("different text"))
}
