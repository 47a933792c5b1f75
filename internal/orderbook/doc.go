// Package orderbook implements the Order-Book Aggregator component.
//
// The aggregator:
//   - Builds a per-instrument book from the first upstream snapshot (top N levels per side)
//   - Applies l2update changes as absolute size replacements
//   - Discards whole change batches that arrive within MinUpdateInterval of the last applied one
//   - Extracts a bounded view for broadcast and replay
//
// Two view orderings are available. OrderingInsertion reproduces the legacy
// behavior: the most recently inserted N levels, newest first. It is not a
// price sort. OrderingPrice returns the best N levels (bids descending,
// asks ascending).
package orderbook
