package anthropic

// CachedSystemBlocks returns text as a single system block with a cache
// breakpoint. The mentor's system prompt is identical on every call of a
// run, so later calls read it from the prompt cache.
func CachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
