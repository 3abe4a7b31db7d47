// Package drivers wires every storage.Driver this module ships into one
// Registry, for the two daemon entrypoints (cmd/wlmountd, cmd/wlsyncd) to
// share. It lives outside internal/storage because
// internal/storage/wasmdriver imports internal/storage for the Backend
// interface it implements — a Registry constructor that also registers
// wasmdriver cannot live inside internal/storage itself without an import
// cycle, so the wiring is hoisted one level up instead.
package drivers

import (
	"github.com/pbeza/wildland-client/internal/storage"
	"github.com/pbeza/wildland-client/internal/storage/wasmdriver"
)

// NewRegistry returns a Registry with every backend driver this module
// ships registered: the "local" and "memory" reference drivers (spec §1,
// "storage drivers for every world service" is out of scope) plus the
// "wasm" WASI filter driver, each keyed by its manifest "type" string
// (spec §4.5 dynamic dispatch).
func NewRegistry() *storage.Registry {
	r := storage.NewDefaultRegistry()
	r.Register("wasm", wasmdriver.NewDriver)
	return r
}
