// Package embeddings turns chunk text and questions into dense vectors.
//
// Two providers are available: a Text-Embeddings-Inference HTTP client and
// an OpenAI-compatible client built on langchaingo. Both check every vector
// against the configured index dimension and record OTel metrics per call.
package embeddings
