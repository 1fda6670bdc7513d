// Package store persists the bot's event state as a single JSON snapshot file.
//
// The snapshot is the authoritative copy of the in-memory mapping; every save
// rewrites it in full via temp-file + rename, so the file on disk always holds
// either the previous or the new complete snapshot, never a partial write.
//
// The file is owned by exactly one bot process. It may be shared across
// restarts (e.g. through a container volume), but running two processes
// against the same path is unsupported.
package store
