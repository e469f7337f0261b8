package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("instructions", "1h")
	require.Len(t, blocks, 1)
	assert.Equal(t, "instructions", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_DefaultTTL(t *testing.T) {
	blocks := BuildCachedSystemBlocks("instructions", "")
	require.NotNil(t, blocks[0].CacheControl)
	assert.Empty(t, blocks[0].CacheControl.TTL)

	out := toSDKSystemBlocks(blocks)
	assert.Empty(t, string(out[0].CacheControl.TTL))
}
