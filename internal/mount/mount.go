package mount

import (
	"context"
	"fmt"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/storage"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

// Core is MountCore: it owns the live FUSE connection, the mount Table,
// and the storage.Registry used to instantiate backends for containers as
// they're mounted (spec §4.6).
type Core struct {
	mountDir string
	registry *storage.Registry
	table    *Table
	conn     *fuse.Conn
}

// NewCore constructs a Core that will mount its pseudo-filesystem at
// mountDir, dispatching storage manifests through registry.
func NewCore(mountDir string, registry *storage.Registry) *Core {
	return &Core{mountDir: mountDir, registry: registry, table: NewTable()}
}

// Table exposes the mount table so SyncDaemon can enumerate mounted
// containers and so controlrpc handlers can drive Mount/Unmount.
func (c *Core) Table() *Table { return c.table }

// Serve mounts the FUSE filesystem and blocks processing kernel requests
// until ctx is canceled or an unrecoverable error occurs.
func (c *Core) Serve(ctx context.Context) error {
	conn, err := fuse.Mount(
		c.mountDir,
		fuse.FSName("wildland"),
		fuse.Subtype("wildland"),
		fuse.LocalVolume(),
		fuse.VolumeName("wildland"),
	)
	if err != nil {
		return fmt.Errorf("mount: fuse.Mount %s: %w", c.mountDir, err)
	}
	c.conn = conn

	go func() {
		<-ctx.Done()
		fuse.Unmount(c.mountDir)
	}()

	<-conn.Ready
	if err := conn.MountError; err != nil {
		return fmt.Errorf("mount: mount error on %s: %w", c.mountDir, err)
	}

	if err := fusefs.Serve(conn, newFS(c.table)); err != nil {
		return fmt.Errorf("mount: serve %s: %w", c.mountDir, err)
	}
	return nil
}

// Close unmounts the filesystem and releases the FUSE connection.
func (c *Core) Close() error {
	if err := fuse.Unmount(c.mountDir); err != nil {
		return fmt.Errorf("mount: unmount %s: %w", c.mountDir, err)
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Mount instantiates a backend for every one of container's storages
// (primary first) and registers them at every one of the container's
// MountPaths (spec §3 "A Container becomes visible... when mounted", §4.6).
// Reads fall back from the primary to the remaining backends on error
// (spec §8 scenario 3), so every storage is live for the lifetime of the
// mount, not just the primary.
func (c *Core) Mount(container *objectmodel.Container, containerUUID string, manifestWire []byte) error {
	primary, ok := container.PrimaryStorage()
	if !ok {
		return fmt.Errorf("mount: container %s has no storage: %w", containerUUID, wlerrors.ErrSchema)
	}

	backends := make([]storage.Backend, 0, len(container.Backends.Storage))
	primaryBackend, err := c.registry.New(primary.Type, primary.Params)
	if err != nil {
		return fmt.Errorf("mount: container %s: %w", containerUUID, err)
	}
	backends = append(backends, primaryBackend)

	for i := range container.Backends.Storage {
		s := &container.Backends.Storage[i]
		if s.BackendID == primary.BackendID {
			continue
		}
		b, err := c.registry.New(s.Type, s.Params)
		if err != nil {
			for _, live := range backends {
				live.Close()
			}
			return fmt.Errorf("mount: container %s: %w", containerUUID, err)
		}
		backends = append(backends, b)
	}

	mountPaths := container.MountPaths()
	entry := &Entry{
		ContainerUUID: containerUUID,
		Container:     container,
		Backend:       primaryBackend,
		Backends:      backends,
		ManifestWire:  manifestWire,
		MountPaths:    mountPaths,
		Params:        primary.Params,
	}
	if err := c.table.Mount(mountPaths, entry); err != nil {
		for _, b := range backends {
			b.Close()
		}
		return err
	}
	return nil
}

// MountItem mounts a single resolved storage descriptor directly, bypassing
// the Container object model — the shape the "mount" control command
// actually carries over the wire (spec §6: "an item is
// {paths[], storage(params), read-only?, extra, remount?}"; spec §2 "Mount
// operations pass resolved storage descriptors over ControlRPC to
// MountCore"). If lazy is true, the backend's New() call is deferred until
// the first read/stat into its subtree (spec §4.6 "Lazy mount").
func (c *Core) MountItem(paths []string, storageType string, params map[string]interface{}, containerUUID string, readOnly bool, lazy bool) error {
	if readOnly {
		if params == nil {
			params = map[string]interface{}{}
		}
		params["read-only"] = true
	}

	var backend storage.Backend
	if lazy {
		backend = newLazyBackend(func() (storage.Backend, error) {
			return c.registry.New(storageType, params)
		})
	} else {
		b, err := c.registry.New(storageType, params)
		if err != nil {
			return fmt.Errorf("mount: %s: %w", containerUUID, err)
		}
		backend = b
	}

	entry := &Entry{
		ContainerUUID: containerUUID,
		Backend:       backend,
		Backends:      []storage.Backend{backend},
		MountPaths:    paths,
		Lazy:          lazy,
		Params:        params,
	}
	if err := c.table.Mount(paths, entry); err != nil {
		backend.Close()
		return err
	}
	return nil
}

// Unmount removes containerUUID from the table and closes every backend
// mounted for it.
func (c *Core) Unmount(containerUUID string) error {
	entries := c.table.Entries()
	var target *Entry
	for _, e := range entries {
		if e.ContainerUUID == containerUUID {
			target = e
			break
		}
	}
	if err := c.table.Unmount(containerUUID); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	var firstErr error
	for _, b := range target.Backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List returns every currently mounted container's UUID and mount paths.
func (c *Core) List() []MountedContainer {
	var out []MountedContainer
	for _, e := range c.table.Entries() {
		out = append(out, MountedContainer{
			ContainerUUID: e.ContainerUUID,
			MountPaths:    e.MountPaths,
		})
	}
	return out
}

// MountedContainer is the List() summary of one mounted container.
type MountedContainer struct {
	ContainerUUID string
	MountPaths    []string
}
