// Package semcache memoizes full assistant answers per user, keyed by a
// hash of the normalized query. Entries expire by TTL and are re-checked
// lazily on lookup.
package semcache
