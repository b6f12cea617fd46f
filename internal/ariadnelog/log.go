// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ariadnelog provides the per-component slog.Logger getter used
// throughout the engine, mirroring the teacher package's convention of a
// small named-logger facade rather than a bespoke logging backend.
package ariadnelog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
)

// SetHandler swaps the process-wide slog handler; callers set this once at
// startup (e.g. to switch to JSON output or raise the level).
func SetHandler(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	handler = h
}

// For returns a logger tagged with component=name.
func For(name string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slog.New(handler).With("component", name)
}
