// Package ingest converts completed chat turns into knowledge items in the
// background: a cheap heuristic filters small talk, an LLM extracts durable
// facts, secrets are redacted, and near-duplicates of recent items are
// skipped. Failures here never reach the chat response path.
package ingest
