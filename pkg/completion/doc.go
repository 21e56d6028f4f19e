// Package completion turns a conversation transcript into the next local
// utterance by calling a chat-completion API.
//
// Providers adapt one vendor SDK each (OpenAI-compatible servers through
// openai-go, Anthropic through anthropic-sdk-go). Client wraps a provider
// with role mapping, retries and metrics, and satisfies the generator the
// turn protocol consumes.
package completion
