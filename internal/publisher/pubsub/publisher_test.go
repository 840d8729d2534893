package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "repos", nil)
	require.ErrorContains(t, err, "client is required")
}
