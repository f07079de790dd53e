package callback

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"
)

// Func is the signature of a hook handler. A handler may return:
//
//   - nil, nil: success, proceed
//   - map[string]any, nil: merged into the context metadata, proceed
//   - *Result (or any struct with the same fields), nil: explicit outcome
//   - false, nil: failure with a synthetic message
//   - _, err (or panic): failure with the error text
type Func func(ctx context.Context, cc *Context) (any, error)

// Handler is a named hook handler. The name appears in synthetic failure
// messages and logs.
type Handler struct {
	Name string
	Fn   Func
}

// HookError reports a handler failure or false-ish return value.
type HookError struct {
	Hook    Hook
	Handler string
	Message string
}

func (e *HookError) Error() string {
	return fmt.Sprintf("callback %s (%s) failed: %s", e.Handler, e.Hook, e.Message)
}

// Outcome is the normalized result of running a hook chain.
type Outcome struct {
	// Err is non-nil when a handler failed and the chain short-circuited.
	Err *HookError

	// SkipScript is set when a handler requested the current script be
	// skipped. Only meaningful for before_script chains.
	SkipScript bool

	// Message carries the skip reason when SkipScript is set.
	Message string
}

// OK reports whether the chain completed without failure.
func (o Outcome) OK() bool { return o.Err == nil }

// Hooks is the contract a callback artifact implements. Each method returns
// the handlers for one hook point in registration order.
type Hooks interface {
	BeforeJob() []Handler
	AfterJob() []Handler
	BeforeTenant() []Handler
	AfterTenant() []Handler
	BeforeScript() []Handler
	AfterScript() []Handler
	OnError() []Handler
}

// BaseHooks is a no-op Hooks implementation for embedding, so artifacts only
// declare the hook points they use.
type BaseHooks struct{}

func (BaseHooks) BeforeJob() []Handler    { return nil }
func (BaseHooks) AfterJob() []Handler     { return nil }
func (BaseHooks) BeforeTenant() []Handler { return nil }
func (BaseHooks) AfterTenant() []Handler  { return nil }
func (BaseHooks) BeforeScript() []Handler { return nil }
func (BaseHooks) AfterScript() []Handler  { return nil }
func (BaseHooks) OnError() []Handler      { return nil }

// Registry holds the registered handlers for every hook point. An empty
// registry is valid; every hook chain then succeeds trivially.
type Registry struct {
	handlers map[Hook][]Handler
	logger   hclog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		handlers: make(map[Hook][]Handler),
		logger:   logger.Named("callback-registry"),
	}
}

// Register appends a handler to the given hook point. Handlers run in
// registration order.
func (r *Registry) Register(hook Hook, h Handler) {
	r.handlers[hook] = append(r.handlers[hook], h)
	r.logger.Debug("registered callback", "hook", hook, "handler", h.Name)
}

// RegisterHooks registers every handler declared by a Hooks implementation.
func (r *Registry) RegisterHooks(h Hooks) {
	for _, reg := range []struct {
		hook     Hook
		handlers []Handler
	}{
		{BeforeJob, h.BeforeJob()},
		{AfterJob, h.AfterJob()},
		{BeforeTenant, h.BeforeTenant()},
		{AfterTenant, h.AfterTenant()},
		{BeforeScript, h.BeforeScript()},
		{AfterScript, h.AfterScript()},
		{OnError, h.OnError()},
	} {
		for _, handler := range reg.handlers {
			r.Register(reg.hook, handler)
		}
	}
}

// Handlers returns the handlers registered for a hook point.
func (r *Registry) Handlers(hook Hook) []Handler {
	return r.handlers[hook]
}

// Run invokes the handlers for a hook point sequentially. A failure or skip
// directive short-circuits the chain; later handlers do not run. Metadata
// returned by earlier handlers is visible to later ones through the context.
func (r *Registry) Run(ctx context.Context, hook Hook, cc *Context) Outcome {
	for _, h := range r.handlers[hook] {
		r.logger.Debug("running callback", "hook", hook, "handler", h.Name, "tenant_id", cc.TenantID)

		value, err := r.invoke(ctx, h, cc)
		if err != nil {
			return Outcome{Err: &HookError{Hook: hook, Handler: h.Name, Message: err.Error()}}
		}

		switch v := value.(type) {
		case nil:
			continue
		case map[string]any:
			cc.MergeMetadata(v)
		case *Result:
			// A typed-nil pointer means the handler had nothing to say.
			if v == nil {
				continue
			}
			if out, done := r.applyResult(hook, h, v); done {
				return out
			}
		case Result:
			if out, done := r.applyResult(hook, h, &v); done {
				return out
			}
		case bool:
			if !v {
				return Outcome{Err: &HookError{
					Hook:    hook,
					Handler: h.Name,
					Message: fmt.Sprintf("callback %s returned false", h.Name),
				}}
			}
		default:
			// Foreign result shapes are mapped onto Result by field name.
			if isStructValue(v) {
				if res, ok := resultFromValue(v); ok {
					if out, done := r.applyResult(hook, h, res); done {
						return out
					}
					continue
				}
			}
			r.logger.Warn("ignoring unsupported callback return value",
				"hook", hook, "handler", h.Name, "type", fmt.Sprintf("%T", value))
		}
	}
	return Outcome{}
}

// applyResult maps an explicit Result onto the chain outcome. Success=false
// always wins over SkipScript.
func (r *Registry) applyResult(hook Hook, h Handler, res *Result) (Outcome, bool) {
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("callback %s reported failure", h.Name)
		}
		return Outcome{Err: &HookError{Hook: hook, Handler: h.Name, Message: msg}}, true
	}
	if res.SkipScript {
		return Outcome{SkipScript: true, Message: res.Message}, true
	}
	return Outcome{}, false
}

// invoke runs one handler, converting panics into errors so a misbehaving
// callback cannot take down the worker.
func (r *Registry) invoke(ctx context.Context, h Handler, cc *Context) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback panicked", "handler", h.Name, "panic", rec)
			value = nil
			err = fmt.Errorf("callback panicked: %v", rec)
		}
	}()
	return h.Fn(ctx, cc)
}

func isStructValue(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
