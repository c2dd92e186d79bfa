package xlog

import (
	"io"
	"log/slog"
)

// JSONHandler returns a slog.Handler emitting one JSON object per line,
// for production deployments that ship logs to a collector rather than a
// terminal. Mirrors go-ethereum's log.JSONHandler.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}
