// Package logging wraps zap for orgrag.
//
// It adds a Trace level below Debug, tees stdout or stderr with an optional
// OpenTelemetry bridge, masks secrets at the encoder, and samples entries
// below Error. Context helpers tag entries with the tenant, the knowledge
// source and the inbound request ID:
//
//	ctx = logging.WithTenant(ctx, "acme-corp")
//	logger.Info(ctx, "ingest complete", zap.Int("chunks", n))
//
// Library packages accept a *zap.Logger; obtain one with Underlying.
// Tests use NewTestLogger and its Assert helpers.
package logging
