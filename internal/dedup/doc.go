// Package dedup implements the cooldown gate that keeps repeated alerts from
// flooding notification channels.
//
// Identity is the alert fingerprint (severity + title). The first occurrence
// of a fingerprint always passes; later occurrences pass only once the
// cooldown has elapsed since the last one that passed. Entries are never
// evicted, so memory grows with the number of distinct fingerprints seen.
package dedup
