package main

import (
	"runtime"
	"time"

	"bridge-rpc/functor"
	"bridge-rpc/server"
)

// registerBuiltins adds the functors every bridged instance serves.
func registerBuiltins(reg *functor.Registry, svr *server.Server) error {
	functor.RegisterDescribe(reg)

	builtins := map[string]any{
		"bridge.ping": func() string { return "pong" },
		"bridge.echo": func(v any) any { return v },
		"bridge.time": func() string { return time.Now().UTC().Format(time.RFC3339Nano) },
		"bridge.info": func() map[string]any {
			return map[string]any{
				"id":      svr.ID(),
				"version": version,
				"go":      runtime.Version(),
			}
		},
		"bridge.sessions": func() []server.SessionInfo { return svr.Sessions() },
	}
	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}
