package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalNoncesExpire(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	n := NewLocalNonces()
	n.now = func() time.Time { return clock }

	ok, err := n.Claim(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = n.Claim(ctx, "a", time.Minute)
	assert.False(t, ok)
	ok, _ = n.Claim(ctx, "b", time.Minute)
	assert.True(t, ok)

	clock = clock.Add(time.Minute)
	ok, _ = n.Claim(ctx, "a", time.Minute)
	assert.True(t, ok)
	assert.Len(t, n.seen, 1)
}

func TestReplayKeyIgnoresTimestampSpelling(t *testing.T) {
	player := common.HexToAddress("0xa11ce")
	body := []byte(`{"make_prediction":{"up":true}}`)

	assert.Equal(t, replayKey(player, body, "1700000000"), replayKey(player, body, " 1700000000 "))
	assert.NotEqual(t, replayKey(player, body, "1700000000"), replayKey(player, body, "1700000001"))
	assert.NotEqual(t, replayKey(player, body, "1700000000"), replayKey(common.HexToAddress("0xb0b"), body, "1700000000"))
}
