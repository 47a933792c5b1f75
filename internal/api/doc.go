// Package api provides a minimal Coinbase Exchange REST client.
//
// The relay only uses it at startup to confirm that every configured
// product exists and is trading:
//   - Production: https://api.exchange.coinbase.com
//   - Sandbox: https://api-public.sandbox.exchange.coinbase.com
//
// Public market data endpoints need no authentication.
package api
