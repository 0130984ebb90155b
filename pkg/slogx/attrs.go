package slogx

import "log/slog"

// Error returns a slog.Attr for the provided error under the key "error".
//
// Parameters:
//   - err: The error to be converted into a slog.Attr.
//
// Returns:
//   - slog.Attr: An attribute with the key "error" and the error's message
//     as the value.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// RunID returns a slog.Attr for a run identifier under the key "run_id".
// Streaming code logs the run id on nearly every line; this keeps the key
// consistent across packages.
func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}
