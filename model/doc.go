// Package model defines the provider agnostic model abstraction used by the
// turn executor.
//
// A Model streams partial text chunks followed by exactly one final Response
// carrying the complete text and any function calls. Providers live in the
// openai and anthropic subpackages.
package model
