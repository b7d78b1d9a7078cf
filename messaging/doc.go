// Package messaging shapes log records and hands them to a publishing
// backend.
//
// This package includes:
//   - IsJSON: cheap structural detection of JSON log lines
//   - Transformer: field projection and envelope wrapping
//   - Router: fixed, pattern and map destination resolution
//   - Transport: the write/close facade used by the line pump
//   - Publisher: the interface broker backends implement
//
// Shaping runs in a fixed order. A record is first detected as JSON or
// plain text. JSON records are projected onto the configured fields, if
// any. The result is then wrapped in the envelope template, if one is
// configured, and otherwise published as parsed JSON or as {"msg": raw}.
//
// Example usage:
//
//	router, err := messaging.NewMapRouter("", map[string]string{
//		"50":      "errors",
//		"default": "logs",
//	}, "level")
//	transformer, err := messaging.NewTransformer(router,
//		messaging.WithFields("time", "level", "msg"),
//		messaging.WithEnvelope(`{"service":"api","data":"%DATA%"}`))
//	transport := messaging.NewTransport(publisher, transformer)
//
//	err = transport.Write(ctx, []byte(`{"level":50,"msg":"boom"}`))
//	err = transport.Close(ctx)
package messaging
