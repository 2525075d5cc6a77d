// Package chromem provides a semantic core.KnowledgeRetriever backed by the
// embedded chromem-go vector database, with optional file persistence.
package chromem
