// Package internal contains the implementation packages for docrelay.
//
// # Package Organization
//
//   - watcher: fsnotify watch on the intake directory, PDF filtering
//   - intake: admission, dedup, backpressure and the per-file pipeline
//   - staging: per-event workspace, copy and removal with retry
//   - pdf: header and structure checks before anything is mailed
//   - classify: filename template matching
//   - sidecar: CC extraction from the XML that accompanies a scan
//   - notify: mail transport, retrying dispatcher and operator alerts
//   - service: lifecycle supervisor, restart and startup checks
//   - monitoring: health checks, resource sampling, status endpoint
//   - audit: SQLite ledger of outcomes, keyed by hashed file names
//   - config: layered configuration and validation
//   - errors: error taxonomy shared by every stage
//   - logging: structured logging and masking of document metadata
//
// # Data Flow
//
// A file created in the watch directory is reported by the watcher to the
// intake controller. The controller admits it, copies it into staging and
// runs it through validation, classification and enrichment before handing
// the envelope to the dispatcher. Every run ends in one intake.Outcome,
// which is fanned out to the audit ledger and the status event stream.
//
// # Handling of Document Metadata
//
// File names and recipient addresses are masked before they reach a log
// line, an alert or the status stream. The audit ledger stores only a
// hash prefix of each name.
package internal
