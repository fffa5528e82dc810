// Package llm generates chapter prose and consistency reviews through an
// OpenAI-compatible chat completion endpoint.
//
// Generator is the production TextGenerator; it performs exactly one request
// per call and leaves retries to the caller so the orchestrator owns the
// attempt budget. Failures are classified into *services.ProviderError with
// the Transient flag set for rate limits, upstream 5xx, and network errors.
//
// DecodeLLMJSON tolerates the usual model formatting quirks (code fences,
// prose around a JSON object) when a handler expects structured output.
package llm
