// Package auth covers both ends of socket authentication.
//
// # Client side
//
// The session engine never issues tokens. It asks a TokenProvider for the
// current bearer token on every connection attempt:
//
//   - StaticToken: a fixed token, mostly for tests and scripts.
//   - FileProvider: an environment variable, then a token file
//     (DefaultTokenPath gives $XDG_CONFIG_HOME/<app>/token).
//   - HTTPProvider: an endpoint answering {"token": "..."}, retried with
//     go-retryablehttp.
//   - CachingProvider: wraps another provider and reuses its token until
//     shortly before the JWT exp claim.
//
// A failing provider surfaces as a connection error and is retried through
// the reconnect backoff, never in a tight loop.
//
// # Server side
//
// JWTVerifier issues and checks HS256 tokens whose "sub" claim is the user
// ID. An optional "rels" claim limits which shared sessions the holder may
// join; Identity.CanJoin applies it. HTTPAuthMiddleware verifies socket
// upgrade requests, accepting either an Authorization header or a token
// query parameter. The fake backend uses both.
package auth
