// Package instrument implements the Instrument Registry component.
//
// The Instrument Registry:
//   - Holds the fixed allow-list of tradable products, set once at startup
//   - Canonicalizes client supplied product ids
//   - Is the single validation gate for client subscribes and upstream dispatch
package instrument
