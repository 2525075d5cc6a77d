// Package model defines the provider-agnostic gateway the agent drives for
// generation.
//
// A Model turns a Request (messages, tool definitions, tool choice, response
// format) into a finite sequence of Responses: zero or more Partial chunks
// carrying text deltas, then one final Response holding the complete
// assistant Message. Requested tool calls are reported on the final response
// only, so a caller resolves them after the stream is exhausted.
//
// Providers live in sub-packages (openai, anthropic). ScriptedModel replays
// scripted turns and records requests for tests; MockModel echoes the input.
package model
