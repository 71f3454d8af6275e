// Package prometheus renders authcore metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] accepts an [authcore.Engine] and exposes an
// [net/http.Handler] that serves all authcore counters and histograms.
// Counter names are prefixed authcore_*_total; the single histogram is
// authcore_validate_latency_seconds.
//
// The package never registers anything in a global Prometheus registry and
// never mutates engine state; callers mount the Handler themselves.
package prometheus
