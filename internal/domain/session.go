package domain

// AnthropicSession is ephemeral continuity state for the anthropic provider.
//
// CacheCreated is a rolling last-observed value: true only when the most
// recent request freshly created a cache entry, false when it only read one
// or used no cache. It is deliberately not sticky across the session.
type AnthropicSession struct {
	CacheCreated bool
}

// OpenAISession is ephemeral continuity state for the openai provider.
type OpenAISession struct {
	ResponseID string
}

// ProviderSessionState is per-provider continuity metadata, rebuilt in
// memory only, cleared on reset, never persisted.
type ProviderSessionState struct {
	Anthropic *AnthropicSession
	OpenAI    *OpenAISession
}

// SessionUpdate carries continuity metadata from a completed stream.
type SessionUpdate struct {
	ResponseID string
	Cache      *CacheMetrics
}
