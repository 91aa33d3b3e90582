// Package sinks contains crawler.SummarySink implementations: a JSON report
// written through the blob store, a structured log line, a Postgres run
// ledger, a Pub/Sub completion notice and a Prometheus textfile export.
package sinks
