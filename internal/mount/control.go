package mount

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/pbeza/wildland-client/internal/controlrpc"
)

// RegisterControlHandlers wires the full fs-commands.json surface (spec
// §4.6/§6) onto a controlrpc.Server: mount, unmount, clear-cache, add-watch,
// add-subcontainer-watch, fileinfo, dirinfo, paths, info, status,
// breakpoint, test.
func RegisterControlHandlers(srv *controlrpc.Server, core *Core) {
	srv.Handle("mount", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		lazy := args.Get("lazy").Bool()
		var mounted []string
		for _, item := range args.Get("items").Array() {
			var paths []string
			for _, p := range item.Get("paths").Array() {
				paths = append(paths, p.String())
			}
			if len(paths) == 0 {
				return nil, fmt.Errorf("mount: item has no paths")
			}
			storageArg := item.Get("storage")
			params := make(map[string]interface{})
			if m := storageArg.Get("params"); m.IsObject() {
				m.ForEach(func(k, v gjson.Result) bool {
					params[k.String()] = v.Value()
					return true
				})
			}
			containerUUID := item.Get("extra.container-uuid").String()
			if containerUUID == "" {
				containerUUID = uuid.New().String()
			}
			if item.Get("remount").Bool() {
				core.Unmount(containerUUID)
			}
			if err := core.MountItem(paths, storageArg.Get("type").String(), params, containerUUID, item.Get("read-only").Bool(), lazy); err != nil {
				return nil, err
			}
			mounted = append(mounted, containerUUID)
		}
		return map[string]interface{}{"mounted": mounted}, nil
	})

	srv.Handle("unmount", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		storageID := args.Get("storage-id").String()
		if storageID == "" {
			return nil, fmt.Errorf("unmount: storage-id is required")
		}
		if err := core.Unmount(storageID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "unmounted"}, nil
	})

	srv.Handle("clear-cache", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		core.table.ClearCache()
		return map[string]string{"status": "cleared"}, nil
	})

	srv.Handle("add-watch", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		storageID := args.Get("storage-id").String()
		pattern := args.Get("pattern").String()
		if err := core.AddWatch(ctx, storageID, pattern, args.Get("ignore-own").Bool()); err != nil {
			return nil, err
		}
		return map[string]string{"status": "watching"}, nil
	})

	srv.Handle("add-subcontainer-watch", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		backendParam := args.Get("backend-param").String()
		if err := core.AddSubcontainerWatch(ctx, backendParam, args.Get("ignore-own").Bool()); err != nil {
			return nil, err
		}
		return map[string]string{"status": "watching"}, nil
	})

	srv.Handle("fileinfo", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		p := args.Get("path").String()
		entry, rel, ok := core.table.Resolve(p)
		if !ok {
			return nil, fmt.Errorf("fileinfo: %s not mounted", p)
		}
		fi, err := statFallback(ctx, entry, "/"+rel)
		if err != nil {
			return nil, err
		}
		return fi, nil
	})

	srv.Handle("dirinfo", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		p := args.Get("path").String()
		entry, rel, ok := core.table.Resolve(p)
		if !ok {
			return map[string]interface{}{"children": core.table.Children(p)}, nil
		}
		entries, err := readDirFallback(ctx, entry, "/"+rel)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entries": entries}, nil
	})

	srv.Handle("paths", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		return core.table.MountedPaths(), nil
	})

	srv.Handle("info", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		return core.List(), nil
	})

	srv.Handle("status", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		return map[string]interface{}{
			"mount-dir":     core.mountDir,
			"mounted-count": len(core.List()),
		}, nil
	})

	srv.Handle("breakpoint", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		log.Warnf("mount: breakpoint requested over control socket")
		return map[string]string{"status": "ok"}, nil
	})

	srv.Handle("test", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		return map[string]string{"status": "ok"}, nil
	})
}
