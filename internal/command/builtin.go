package command

import (
	"context"
	"encoding/json"
	"time"
)

// RegisterBuiltins wires the stock demo handlers. Deployments replace or
// extend these with their own registrations.
func RegisterBuiltins(r *Registry) {
	r.Register("PING", Command{
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			return map[string]any{}, nil
		},
	})

	r.Register("ECHO", Command{
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			if len(inv.Data) == 0 {
				return json.RawMessage(`{}`), nil
			}
			return inv.Data, nil
		},
	})

	r.Register("TIME", Command{
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			return map[string]int64{"unixMs": time.Now().UnixMilli()}, nil
		},
	})

	r.Register("WHOAMI", Command{
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			resp := map[string]any{
				"sessionId": inv.Session.ID,
				"identity":  inv.Session.Identity,
				"scopes":    inv.Session.Scopes,
			}
			if !inv.Session.ExpiresAt.IsZero() {
				resp["expiresAt"] = inv.Session.ExpiresAt.UnixMilli()
			}
			return resp, nil
		},
	})

	r.Register("QUIT", Command{
		Terminal: true,
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			return map[string]bool{"bye": true}, nil
		},
	})
}
