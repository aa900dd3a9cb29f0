// Package telemetry provides OpenTelemetry tracing for procedure runs.
//
// # Overview
//
// Each orchestrated run is one "voxelops.procedure" span with child spans
// for pre-validation, execution and post-validation. Spans are exported
// over OTLP (gRPC or HTTP/protobuf) to a collector. Counters and duration
// histograms are served by the metrics package, not exported here.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, &cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch := orchestrator.New(registry, executor,
//	    orchestrator.WithTracer(tel.Tracer("voxelops")))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//	  shutdown:
//	    timeout: 5s
//
// # Error Handling
//
// Exporter setup failures mark the instance degraded instead of failing;
// Tracer then returns the global no-op tracer.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
