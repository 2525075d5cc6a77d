// Package output implements structured responses: a Schema reflected from a
// Go type (or a plain field list), the JSON instruction block appended to the
// system prompt, and tolerant parsing that strips markdown code fences
// before giving up.
package output
