package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "juparb:lock:scanner:cycle", joinKey("juparb:", "lock", "scanner:cycle"))
	assert.Equal(t, "price:usd:mint", joinKey("", "price", "usd:mint"))
	assert.Equal(t, "juparb:", joinKey("juparb:"))

	c := &Client{prefix: "x:"}
	assert.Equal(t, "x:scanner:events", c.Key("scanner:events"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("scanner:*"))
	assert.True(t, hasPattern("a?b"))
	assert.False(t, hasPattern("scanner:events"))
}

func TestPriceEncoding(t *testing.T) {
	ts := time.Unix(1700000000, 123)
	enc := encodePrice(6.6666, ts)

	vals := map[string]string{"price": enc["price"].(string), "ts": enc["ts"].(string)}
	price, got, err := decodePrice(vals)
	require.NoError(t, err)
	assert.Equal(t, 6.6666, price)
	assert.True(t, ts.Equal(got))

	_, _, err = decodePrice(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = decodePrice(map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
}

func TestParseWindowResult(t *testing.T) {
	res, err := parseWindowResult([]int64{0, 5, 250_000})
	require.NoError(t, err)
	assert.False(t, res.allowed)
	assert.Equal(t, int64(5), res.count)
	assert.Equal(t, 250*time.Millisecond, res.retryIn)

	_, err = parseWindowResult([]int64{1})
	assert.Error(t, err)
}

func TestClampWait(t *testing.T) {
	assert.Equal(t, minWaitInterval, clampWait(0))
	assert.Equal(t, 200*time.Millisecond, clampWait(200*time.Millisecond))
	assert.Equal(t, maxWaitInterval, clampWait(time.Hour))
}

func TestDecodeMessages(t *testing.T) {
	msgs := decodeMessages([]redis.XMessage{
		{ID: "1-0", Values: map[string]any{"payload": "a"}},
		{ID: "2-0", Values: map[string]any{"other": "b"}},
		{ID: "3-0", Values: map[string]any{"payload": []byte("c")}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, []byte("c"), msgs[1].Payload)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
