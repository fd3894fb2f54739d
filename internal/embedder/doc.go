// Package embedder turns symbol documents into vectors and caches them.
//
// Providers implement the Embedder interface. The Jina and OpenAI providers
// share one HTTP client with rate limiting and retry; the local provider
// hashes terms into a fixed-size vector and works offline.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache := embedder.NewCache(emb, store, embedder.CacheOptions{BatchSize: 50})
//	defer cache.Close()
//
//	vec, err := cache.GetOrCompute(ctx, "def checkout(cart): ...")
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. If CODEMORPH_EMBEDDING_PROVIDER is set, use that provider
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else use the local provider
//
// # Caching
//
// The cache checks an in-memory LRU, then the persistent RecordStore, then the
// provider. Keys are the SHA-256 of the text after truncation to the token
// budget, namespaced by model id. Concurrent requests for the same missing text
// share one provider call.
//
// A failed batch marks its texts with types.ErrEmbeddingUnavailable; callers
// store those symbols without a vector and keep going. Failures are never cached.
//
// # Error Handling
//
// Transport errors, 429 and 5xx responses are retried with exponential backoff.
// Other client errors fail immediately:
//
//	if errors.Is(err, embedder.ErrRateLimited) {
//	    // retries exhausted against a rate limit
//	}
package embedder
