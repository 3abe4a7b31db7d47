// Package wasmdriver hosts a WASI-compiled plugin that transforms file
// contents on their way in and out of storage (e.g. compression or
// obfuscation filters authored independently of this module), registered
// under storage type "wasm" the same way any other backend driver is
// (spec §4.5 dynamic dispatch). The wazero hosting style follows
// sdn-server/internal/wasm/flatc.go.
package wasmdriver

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/pbeza/wildland-client/internal/storage"
)

// Backend wraps an in-memory store with optional write/read transforms
// implemented by a loaded WASM module. Writes are passed through
// transformWrite before being stored; reads are passed through
// transformRead before being returned.
type Backend struct {
	inner *storage.MemoryBackend

	runtime wazero.Runtime
	module  api.Module
	mu      sync.Mutex

	malloc         api.Function
	free           api.Function
	transformWrite api.Function
	transformRead  api.Function
}

// NewDriver returns a storage.Driver for type "wasm": params["wasm-path"]
// names the compiled plugin; params["read-only"] is honored like every
// other driver.
func NewDriver(params map[string]interface{}) (storage.Backend, error) {
	wasmPath, _ := params["wasm-path"].(string)
	readOnly, _ := params["read-only"].(bool)
	return New(context.Background(), wasmPath, readOnly)
}

// New constructs a Backend, loading the WASM module at wasmPath if given.
// An empty wasmPath yields a pure in-memory backend with no transform,
// matching the nil-function fallback pattern used elsewhere for optional
// WASM exports.
func New(ctx context.Context, wasmPath string, readOnly bool) (*Backend, error) {
	b := &Backend{inner: storage.NewMemoryBackend(readOnly)}
	if wasmPath == "" {
		return b, nil
	}
	if err := b.loadModule(ctx, wasmPath); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) loadModule(ctx context.Context, wasmPath string) error {
	wasmBytes, err := readWasmFile(wasmPath)
	if err != nil {
		return fmt.Errorf("wasmdriver: read %s: %w", wasmPath, err)
	}

	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return fmt.Errorf("wasmdriver: instantiate WASI: %w", err)
	}
	module, err := r.Instantiate(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return fmt.Errorf("wasmdriver: instantiate module %s: %w", wasmPath, err)
	}

	b.runtime = r
	b.module = module
	b.malloc = module.ExportedFunction("malloc")
	b.free = module.ExportedFunction("free")
	b.transformWrite = module.ExportedFunction("wl_transform_write")
	b.transformRead = module.ExportedFunction("wl_transform_read")
	return nil
}

// Close releases the WASM runtime, if one was loaded.
func (b *Backend) Close() error {
	if b.runtime != nil {
		return b.runtime.Close(context.Background())
	}
	return nil
}

// Capabilities reports the wrapped backend's capabilities with
// SupportsRandomWrites turned off, since files pass whole through the
// transform.
func (b *Backend) Capabilities() storage.Capabilities {
	caps := b.inner.Capabilities()
	caps.SupportsRandomWrites = false
	return caps
}

func (b *Backend) applyWrite(ctx context.Context, data []byte) ([]byte, error) {
	if b.transformWrite == nil {
		return data, nil
	}
	return b.callTransform(ctx, b.transformWrite, data)
}

func (b *Backend) applyRead(ctx context.Context, data []byte) ([]byte, error) {
	if b.transformRead == nil {
		return data, nil
	}
	return b.callTransform(ctx, b.transformRead, data)
}

// callTransform copies data into the module's linear memory, invokes fn,
// and copies the result back out, following the allocate/call/deallocate
// sequence used for flatc's WASM exports.
func (b *Backend) callTransform(ctx context.Context, fn api.Function, data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.malloc == nil || b.free == nil {
		return data, nil
	}

	results, err := b.malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("wasmdriver: malloc: %w", err)
	}
	ptr := uint32(results[0])
	defer b.free.Call(ctx, uint64(ptr), uint64(len(data)))

	mem := b.module.Memory()
	if !mem.Write(ptr, data) {
		return nil, fmt.Errorf("wasmdriver: write input to wasm memory out of range")
	}

	out, err := fn.Call(ctx, uint64(ptr), uint64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("wasmdriver: call transform: %w", err)
	}
	outPtr, outLen := uint32(out[0]), uint32(out[1])
	result, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("wasmdriver: read output from wasm memory out of range")
	}
	return append([]byte{}, result...), nil
}

func readWasmFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
