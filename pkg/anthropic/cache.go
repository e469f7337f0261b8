package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The extraction instructions are identical across every unit
// of a sweep, so later calls read them from the prompt cache. An empty ttl
// uses the API default of five minutes.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
