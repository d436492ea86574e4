// Package logsink owns the per-device append-only log file written during a run.
//
// Each device gets one file per run, named after the device id and the run start
// time. Every line from the external search process is appended as it arrives,
// prefixed with a wall-clock timestamp. While a process runs the sink emits a
// rate-limited preview of recent interesting lines (throughput, find counts,
// addresses, keys) through the structured logger. Previews for the redacted
// target hide key lines and zero out find counts; the file itself is only
// scrubbed after a confirmed find for that target.
//
// A Sink is owned by exactly one worker and is not safe for concurrent use.
package logsink
