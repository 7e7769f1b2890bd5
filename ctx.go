package sitegate

import "context"

var callerCtxKey = &contextKey{"caller"}

type contextKey struct {
	name string
}

// WithCaller sets the Caller in the given context
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey, caller)
}

// CallerFromContext finds the Caller in the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	raw, ok := ctx.Value(callerCtxKey).(Caller)
	return raw, ok && raw != nil
}

// ActorFromContext resolves the ledger actor of the request caller.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return Actor{}, false
	}
	return ActorOf(caller)
}

// IsAdmin reports whether the context carries an admin caller
func IsAdmin(ctx context.Context) bool {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return false
	}
	admin, ok := caller.(AdminCaller)
	return ok && admin.Claims != nil && admin.Claims.Role() == RoleAdmin
}
