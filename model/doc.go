// Package model defines the provider-agnostic abstraction used to drive
// language models behind dialogue agents.
//
// A Model streams partial text followed by one final Response on a channel
// pair, so streaming and non-streaming generation share a single interface.
// Providers (OpenAI, Anthropic) live in sub packages; MockModel serves tests
// and examples.
package model
