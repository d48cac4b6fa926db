// Package embedder defines the consumed embedding capability and its
// decorators.
//
// The core never depends on a concrete model: build and search code hold an
// Embedder, which any implementation (local model, remote API) satisfies.
// Two REST providers ship in-tree:
//
//   - OpenAIProvider: any OpenAI-compatible /embeddings endpoint
//   - OllamaProvider: a local Ollama server
//
// Both are usually wrapped by the decorators the factory applies:
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama"})
//	// emb = Cached(Retrying(OllamaProvider))
//
// Initialize must be called once before Embed/EmbedBatch; repeated
// initialization is a safe no-op. Embedding calls are the only
// unbounded-latency external dependency in the system, so callers should
// bound them with a context deadline.
package embedder
