// Package adapter exposes negotiations to editor integrations.
//
// Summarize reduces an audit record to the fields an editor needs. The
// Cursor adapter returns only the final text for a prompt; the Windsurf
// adapter takes a request map and returns a response map with the
// response text, whether it passed validation, and the attempt count.
//
// Text returned for a non-approved negotiation is always a fixed
// placeholder, never a rejected artifact.
package adapter
