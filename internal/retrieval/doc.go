// Package retrieval ranks per-user knowledge into a confidence-scored
// context list for generation.
//
// The ranking policy is a single pure function (Score) over exact-match,
// similarity, recency, and content-type signals; the Retriever applies it
// to store candidates and degrades to keyword-only mode when the embedding
// provider is unavailable.
package retrieval
