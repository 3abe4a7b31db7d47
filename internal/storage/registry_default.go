package storage

// NewDefaultRegistry returns a Registry with the built-in "local" and
// "memory" drivers registered. Pluggable real-world drivers (S3, WebDAV,
// Dropbox, Git, SSHFS, IPFS, …) register themselves into a Registry the
// same way at startup — this repo only ships these two reference drivers
// plus the WASI filter driver in internal/storage/wasmdriver, needed to
// exercise MountCore and SyncDaemon end to end, per spec §1 ("storage
// drivers for every world service" is explicitly out of scope). The wasm
// driver is registered by internal/drivers.NewRegistry rather than here,
// since it imports this package and registering it from inside would
// cycle; daemon entrypoints should call drivers.NewRegistry instead of
// this function directly.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("local", NewLocalDriver)
	r.Register("memory", NewMemoryDriver)
	return r
}
