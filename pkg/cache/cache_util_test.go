package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c *Cache

	var dst map[string]string
	assert.ErrorIs(t, c.GetJSON(ctx, "ns", "k", &dst), ErrMiss)
	gen, err := c.Generation(ctx, "ns", "k")
	assert.NoError(t, err)
	assert.Zero(t, gen)
	assert.NoError(t, c.SetJSONAt(ctx, "ns", "k", map[string]string{"a": "b"}, time.Minute, 0))
	assert.NoError(t, c.Invalidate(ctx, "ns", "k"))
	assert.NoError(t, c.Close())
	assert.Nil(t, NewCache(nil, "", false))
}

func TestValueAndGenerationShareSlot(t *testing.T) {
	v, g := valueKey("ledger:account", "acc_1"), genKey("ledger:account", "acc_1")
	assert.Equal(t, "ledger:account:{acc_1}", v)
	assert.True(t, strings.HasPrefix(g, v))
	assert.NotEqual(t, v, g)
}
