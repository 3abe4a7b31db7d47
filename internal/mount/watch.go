package mount

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/pbeza/wildland-client/internal/storage"
)

// AddWatch attaches a watcher to the backend mounted for containerUUID and
// logs every event it reports (spec §6 "add-watch"). A driver without a
// native watcher (Capabilities().SupportsWatcherNative == false) gets the
// periodic-scan substitute instead, timed from the mounted storage's
// "watcher-interval" param, per spec §4.5.
func (c *Core) AddWatch(ctx context.Context, containerUUID, pattern string, ignoreOwn bool) error {
	var target *Entry
	for _, e := range c.table.Entries() {
		if e.ContainerUUID == containerUUID {
			target = e
			break
		}
	}
	if target == nil {
		return fmt.Errorf("mount: add-watch: %s not mounted", containerUUID)
	}

	events, err := watcherFor(ctx, target.Backend, pattern, ignoreOwn, target.Params)
	if err != nil {
		return fmt.Errorf("mount: add-watch %s: %w", containerUUID, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Infof("mount: watch %s: %s %s", containerUUID, ev.Type, ev.Path)
			}
		}
	}()
	return nil
}

// watcherFor returns a native watcher filtered by pattern if the backend
// supports one, otherwise the periodic-scan substitute over the whole
// backend, which ignores pattern (spec §4.5), timed from params'
// "watcher-interval" (seconds; gjson decodes it as float64 off the control
// socket, but a plain int is accepted too for callers that build params in
// Go).
func watcherFor(ctx context.Context, b storage.Backend, pattern string, ignoreOwn bool, params map[string]interface{}) (<-chan storage.Event, error) {
	if b.Capabilities().SupportsWatcherNative {
		return b.Watcher(ctx, pattern, ignoreOwn)
	}
	return storage.PollWatcher(ctx, b, "/", watcherIntervalFrom(params))
}

func watcherIntervalFrom(params map[string]interface{}) time.Duration {
	switch v := params["watcher-interval"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return storage.DefaultWatcherInterval
}

// AddSubcontainerWatch starts the subcontainer remount loop for the backend
// mounted for containerUUID (spec §4.6 "Subcontainer remount"): it polls
// ListSubcontainers, mounting newly discovered links under the parent's
// first mount path and unmounting ones that disappear, coalescing per-path
// so intermediate states are never exposed (achieved here by holding the
// single goroutine's loop as the only writer for this parent's
// subcontainers).
func (c *Core) AddSubcontainerWatch(ctx context.Context, containerUUID string, ignoreOwn bool) error {
	var target *Entry
	for _, e := range c.table.Entries() {
		if e.ContainerUUID == containerUUID {
			target = e
			break
		}
	}
	if target == nil {
		return fmt.Errorf("mount: add-subcontainer-watch: %s not mounted", containerUUID)
	}
	if !target.Backend.Capabilities().SupportsSubcontainers {
		return fmt.Errorf("mount: add-subcontainer-watch: %s does not host subcontainers", containerUUID)
	}
	if len(target.MountPaths) == 0 {
		return fmt.Errorf("mount: add-subcontainer-watch: %s has no mount path", containerUUID)
	}
	parentPath := target.MountPaths[0]

	go c.runSubcontainerWatch(ctx, target, parentPath)
	return nil
}

func (c *Core) runSubcontainerWatch(ctx context.Context, parent *Entry, parentPath string) {
	mounted := make(map[string]string) // manifest path -> mounted containerUUID

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	scan := func() {
		links, err := parent.Backend.ListSubcontainers(ctx)
		if err != nil {
			log.Warnf("mount: subcontainer-watch %s: %v", parent.ContainerUUID, err)
			return
		}

		seen := make(map[string]bool, len(links))
		for _, link := range links {
			seen[link.ManifestPath] = true
			if _, ok := mounted[link.ManifestPath]; ok {
				continue
			}
			subUUID := uuid.New().String()
			subPath := path.Join(parentPath, path.Base(link.ManifestPath))
			storageType, _ := link.Params["type"].(string)
			if err := c.MountItem([]string{subPath}, storageType, link.Params, subUUID, false, false); err != nil {
				log.Warnf("mount: subcontainer-watch %s: mount %s: %v", parent.ContainerUUID, link.ManifestPath, err)
				continue
			}
			mounted[link.ManifestPath] = subUUID
			log.Infof("mount: subcontainer-watch %s: mounted %s at %s", parent.ContainerUUID, link.ManifestPath, subPath)
		}

		for manifestPath, subUUID := range mounted {
			if seen[manifestPath] {
				continue
			}
			if err := c.Unmount(subUUID); err != nil {
				log.Warnf("mount: subcontainer-watch %s: unmount %s: %v", parent.ContainerUUID, manifestPath, err)
				continue
			}
			delete(mounted, manifestPath)
			log.Infof("mount: subcontainer-watch %s: unmounted %s", parent.ContainerUUID, manifestPath)
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		}
	}
}
