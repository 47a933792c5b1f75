// Package model defines shared data types used across the relay.
//
// Conventions:
//   - Instruments: canonical upper-case product ids (e.g. "BTC-USD")
//   - Prices and sizes: decimal.Decimal, rendered as JSON numbers on the client protocol
//   - Timestamps: time.Time as reported by the upstream feed
package model
