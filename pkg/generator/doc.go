// Package generator provides negotiation.Generator implementations.
//
//   - Sequence: scripted artifacts per call, for tests and dry runs
//   - Func: adapts a prompt-level function
//   - Replay: recorded fixtures selected by request keyword and by whether
//     the call is an initial or corrective attempt
//   - Provider: a live OpenAI-compatible chat completions backend
//
// Demo returns a Replay loaded with the built-in demonstration fixtures.
package generator
