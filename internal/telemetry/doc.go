// Package telemetry wires the OpenTelemetry SDK for orgrag.
//
// Spans are exported over OTLP (gRPC or HTTP) to a collector. Telemetry is
// off by default; when enabled but unreachable it degrades to no-op
// providers instead of failing startup.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//
// Packages create their tracers with otel.Tracer at init time; the global
// provider installed by New backs them once it is set.
//
// Tests use NewTestTelemetry and Install to record spans in memory.
package telemetry
