// Package llms defines the provider-neutral model interface, message
// and content-part types, and per-call options shared by all LLM
// backends. Provider subpackages (anthropic, openai) implement the
// Model interface on top of their vendor SDKs or HTTP clients.
package llms
