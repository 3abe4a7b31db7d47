package storage

import (
	"context"
	"time"
)

// DefaultWatcherInterval is used when a manifest's watcher-interval is
// unset or non-positive (spec §4.5: "Missing native watcher -> core
// substitutes a periodic scan using watcher-interval").
const DefaultWatcherInterval = 30 * time.Second

// PollWatcher substitutes a periodic full-tree scan for any backend whose
// Capabilities().SupportsWatcherNative is false (spec §4.5, §4.6
// subcontainer remount, §4.7 continuous sync). It walks root every
// interval, diffs the walk against the previous one, and emits a
// Create/Modify/Delete event per path that appeared, changed size or
// mtime, or disappeared. Unlike a native watcher it cannot distinguish the
// watching process's own writes from anyone else's, so ignoreOwn has no
// effect here — callers that need that distinction need a real native
// watcher.
func PollWatcher(ctx context.Context, b Backend, root string, interval time.Duration) (<-chan Event, error) {
	if interval <= 0 {
		interval = DefaultWatcherInterval
	}
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		prev, _ := scanTree(ctx, b, root)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := scanTree(ctx, b, root)
				if err != nil {
					continue
				}
				for path, fi := range cur {
					old, existed := prev[path]
					switch {
					case !existed:
						sendEvent(ctx, events, Event{Type: EventCreate, Path: path})
					case old.ModTime != fi.ModTime || old.Size != fi.Size:
						sendEvent(ctx, events, Event{Type: EventModify, Path: path})
					}
				}
				for path := range prev {
					if _, stillThere := cur[path]; !stillThere {
						sendEvent(ctx, events, Event{Type: EventDelete, Path: path})
					}
				}
				prev = cur
			}
		}
	}()
	return events, nil
}

func sendEvent(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// scanTree walks root recursively, returning every regular file's current
// FileInfo keyed by path.
func scanTree(ctx context.Context, b Backend, root string) (map[string]FileInfo, error) {
	out := make(map[string]FileInfo)
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := b.ReadDir(ctx, path)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			if fi.IsDir {
				if err := walk(fi.Path); err != nil {
					return err
				}
				continue
			}
			out[fi.Path] = fi
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}
