// Package provider defines the generation backend capability used by the
// classification and code synthesis stages. A backend turns one prompt into
// one block of response text. Adapters (openaicompat, litellm) speak the
// backend's wire protocol; the pipeline only sees [Backend].
package provider
