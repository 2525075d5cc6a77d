// Package knowledge contains concrete core.KnowledgeRetriever
// implementations. The retriever interface and Document type reside in the
// core package; select an implementation at wiring time.
//
//   - InMemoryRetriever: keyword overlap scoring over a static corpus
//   - chromem: embedded vector search backed by chromem-go
package knowledge
