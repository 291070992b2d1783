// Package litellm adapts a LiteLLM proxy as a generation backend. LiteLLM
// exposes an OpenAI-compatible Chat Completions API, so this adapter
// delegates HTTP communication to openaicompat.Client and adds model
// mapping and gateway header support.
package litellm
