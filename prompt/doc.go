// Package prompt composes the system and user prompts of an agent run.
//
// The system prompt is either an override (string, text/template or
// function) or a default composition in fixed order: description, model
// preamble, an enumerated <instructions> block, additional text, <rules>,
// domain knowledge, followup questions, delegation prompt, the structured
// output block and the prompt-injection guard.
//
// The user prompt is either an override, the plain message, or a
// composition that embeds knowledge references and chat history around
// the message.
package prompt
