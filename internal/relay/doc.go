// Package relay multiplexes one upstream market-data feed across many
// client connections.
//
// The Engine combines the Session Controller (client subscribe and
// unsubscribe, replay of cached state), the Broadcast Dispatcher and the
// upstream event handler. Every operation that touches an instrument's
// subscribers, ticker cache or order book runs under that instrument's
// lock, so a new subscriber's replay always precedes later broadcasts and
// broadcasts follow the order in which updates were applied.
package relay
