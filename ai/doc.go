// Package ai defines the embedding service abstraction used by the
// indexing pipeline.
//
// The Embedder interface turns text chunks into dense vectors. The
// production implementation in ai/openai talks to any OpenAI-compatible
// embeddings API (OpenAI itself, Ollama, vLLM); ai/mock provides a
// deterministic test double.
package ai
