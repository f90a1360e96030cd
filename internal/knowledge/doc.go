// Package knowledge stores per-user facts and conversation snippets with
// vector embeddings in PostgreSQL + pgvector.
//
// Items are append-only and strictly scoped to one user. The store exposes
// a combined keyword + vector candidate scan; ranking policy lives in the
// retrieval package.
package knowledge
