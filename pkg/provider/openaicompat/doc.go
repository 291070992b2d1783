// Package openaicompat is a client for OpenAI-compatible Chat Completions
// backends. It sends a prompt as a single user message, returns the first
// choice's text, and maps HTTP and network failures to API errors.
//
// Adapters such as litellm embed the Client and add backend-specific
// behaviour like model mapping or extra headers.
package openaicompat
