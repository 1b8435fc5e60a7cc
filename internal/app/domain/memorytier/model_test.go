package memorytier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentID_DeterministicForSameContent(t *testing.T) {
	require.Equal(t, ContentID("hello world"), ContentID("hello world"))
}

func TestContentID_DiffersForDifferentContent(t *testing.T) {
	require.NotEqual(t, ContentID("hello world"), ContentID("goodbye world"))
}

func TestContentID_IsPrefixLength(t *testing.T) {
	require.Len(t, ContentID("anything"), contentIDLen)
}
