package anthropic

// BuildCachedSystemBlocks returns a single system block with an ephemeral
// cache breakpoint. Long static prompts shared by every call (the analysis
// instructions and industry list) are sent this way so repeat calls read the
// prefix from cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "1h"},
		},
	}
}
