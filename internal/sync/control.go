package sync

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/pbeza/wildland-client/internal/controlrpc"
)

// RegisterControlHandlers wires the full sync-commands.json surface (spec
// §4.7/§6: start, active-events, stop, stop-all, job-state, status,
// test-error, shutdown) onto a controlrpc.Server.
func RegisterControlHandlers(srv *controlrpc.Server, mgr *Manager) {
	srv.Handle("start", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		jobID := JobID(args.Get("job-id").String())
		if jobID == "" {
			return nil, fmt.Errorf("sync: job-id is required")
		}
		p := StartParams{
			JobID:          jobID,
			Owner:          args.Get("owner").String(),
			ContainerUUID:  args.Get("container-name").String(),
			Continuous:     args.Get("continuous").Bool(),
			Unidirectional: args.Get("unidirectional").Bool(),
			Source:         endpointFrom(args.Get("source")),
			Target:         endpointFrom(args.Get("target")),
		}
		for _, ev := range args.Get("active-events").Array() {
			p.ActiveEvents = append(p.ActiveEvents, ev.String())
		}
		job, err := mgr.Start(ctx, p)
		if err != nil {
			return nil, err
		}
		return job, nil
	})

	srv.Handle("active-events", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		id := JobID(args.Get("job-id").String())
		if id == "" {
			return nil, fmt.Errorf("sync: job-id is required")
		}
		var events []string
		for _, ev := range args.Get("active-events").Array() {
			events = append(events, ev.String())
		}
		if err := mgr.ActiveEvents(id, events); err != nil {
			return nil, err
		}
		return map[string]string{"status": "updated"}, nil
	})

	srv.Handle("stop", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		id := JobID(args.Get("job-id").String())
		if id == "" {
			return nil, fmt.Errorf("sync: job-id is required")
		}
		if err := mgr.Stop(id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "stopped"}, nil
	})

	srv.Handle("stop-all", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		mgr.StopAll()
		return map[string]string{"status": "stopped"}, nil
	})

	srv.Handle("job-state", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		id := JobID(args.Get("job-id").String())
		if id == "" {
			return nil, fmt.Errorf("sync: job-id is required")
		}
		job, err := mgr.store.Get(id)
		if err != nil {
			return nil, err
		}
		return job, nil
	})

	srv.Handle("status", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		jobs, err := mgr.store.List()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"jobs":    jobs,
			"running": mgr.RunningIDs(),
		}, nil
	})

	srv.Handle("test-error", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		id := JobID(args.Get("job-id").String())
		if id == "" {
			return nil, fmt.Errorf("sync: job-id is required")
		}
		message := args.Get("message").String()
		if message == "" {
			message = "injected test error"
		}
		if err := mgr.TestError(id, message); err != nil {
			return nil, err
		}
		return map[string]string{"status": "error-injected"}, nil
	})

	srv.Handle("shutdown", func(ctx context.Context, args gjson.Result) (interface{}, error) {
		mgr.StopAll()
		return map[string]string{"status": "shutting-down"}, nil
	})
}

func endpointFrom(v gjson.Result) EndpointSpec {
	params := make(map[string]interface{})
	if m := v.Get("params"); m.IsObject() {
		m.ForEach(func(key, val gjson.Result) bool {
			params[key.String()] = val.Value()
			return true
		})
	}
	return EndpointSpec{Type: v.Get("type").String(), Params: params}
}
