// Package main hosts the harvester entrypoint for `go install ./cmd/harvester`.
//
// Architecture overview:
//   - Configuration: Viper populates internal/config from a file and HARVESTER_* env vars, then converts it into an
//     immutable crawler.Policy. Selectors and globs are compiled during validation so a bad config fails early.
//   - Browser: one chromedp or rod session per run, opened by the pipeline and closed on every exit path. The rod
//     driver can inject go-rod/stealth before the first navigation.
//   - Pipeline: for each page the navigator builds the URL, waits for readiness and scrolls; the extractor returns
//     raw records (script or DOM selectors); the normalizer turns them into image/text/file artifacts; the saver
//     persists them on a bounded worker pool, downloading image and file URLs through the Colly fetcher with the
//     browser's cookies and user agent.
//   - Storage: artifacts go to local disk (temp file + rename), memory, or GCS.
//   - Reporting: the RunSummary is handed to every enabled sink (JSON report, log, Postgres ledger, Pub/Sub notice,
//     Prometheus textfile).
//
// Operational notes:
//   - The first SIGINT/SIGTERM finishes the current page and ends the run as canceled; a second one cancels
//     in-flight work.
//   - The process exits non-zero only when a lost browser session aborts the run. Per-artifact failures are recorded
//     in the summary.
//   - Run locally: go run ./cmd/harvester crawl --config harvest.yaml
package main
