// Package logging configures structured logging for Parley.
//
// New builds a *slog.Logger whose handler adds negotiation fields stored in
// the context (negotiation id, request id, attempt) and masks secrets such
// as API keys and bearer tokens before they are written:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", Redact: true})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithNegotiationID(ctx, id)
//	slog.InfoContext(ctx, "attempt completed") // includes negotiation_id
//
// LogSink emits one structured event per negotiation step and can be
// attached to a negotiation.Negotiator.
package logging
