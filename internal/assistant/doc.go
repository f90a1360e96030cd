// Package assistant orchestrates a chat turn end to end: semantic cache
// lookup, hybrid context retrieval, model generation, and the cache write
// for the next identical question.
package assistant
