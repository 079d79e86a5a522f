/*
Package telemetry provides distributed tracing HTTP instrumentation for the
control plane, plus a small rate limiter used to throttle repeated warning
log lines.

Usage:

	mux := http.NewServeMux()
	mux.HandleFunc("/api/...", handler)
	tracedHandler := telemetry.TracingMiddleware("ymerad")(mux)
	http.ListenAndServe(":8080", tracedHandler)

	client := telemetry.NewTracedHTTPClient(nil)
	resp, err := client.Do(req)
*/
package telemetry
