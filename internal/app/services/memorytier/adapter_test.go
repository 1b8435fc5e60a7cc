package memorytier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdapter_RememberAndRecallRoundTrip(t *testing.T) {
	tiers := newTestTiers(t, nil)
	adapter := NewAdapter(tiers)

	id, err := adapter.Remember(context.Background(), "deploy the new crawler fleet", []string{"ops", "crawler"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := adapter.Recall(context.Background(), "crawler fleet", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
	require.Equal(t, 1.0, results[0].Score)
}
