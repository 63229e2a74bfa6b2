// Package auth authenticates API callers by key.
//
// Keys are presented either as a bearer token or in the X-API-Key header:
//
//	Authorization: Bearer <key>
//	X-API-Key: <key>
//
// A KeySet resolves a presented key to its named APIKey. The server stores
// the resolved key in the request context so handlers can attribute the
// negotiation to the caller.
package auth
