package mount

import (
	"context"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// pseudoManifestNode exposes a mounted container's own signed manifest as
// a read-only virtual file at "<mountpoint>/.manifest.wildland.yaml" (spec
// §4.6), so a user can inspect what's mounted without consulting the
// catalog directly.
type pseudoManifestNode struct {
	entry *Entry
}

var (
	_ fs.Node           = (*pseudoManifestNode)(nil)
	_ fs.HandleReadAller = (*pseudoManifestNode)(nil)
)

func (p *pseudoManifestNode) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Size = uint64(len(p.entry.ManifestWire))
	a.Mtime = time.Now()
	return nil
}

func (p *pseudoManifestNode) ReadAll(ctx context.Context) ([]byte, error) {
	return p.entry.ManifestWire, nil
}
