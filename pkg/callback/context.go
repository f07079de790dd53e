// Package callback implements the lifecycle hook system for migration jobs.
// User-supplied handlers are registered against seven hook points and invoked
// sequentially; each handler can pass metadata downstream, skip the current
// script, or fail the chain.
package callback

import (
	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// Hook identifies a lifecycle point handlers can attach to.
type Hook string

const (
	BeforeJob    Hook = "before_job"
	AfterJob     Hook = "after_job"
	BeforeTenant Hook = "before_tenant"
	AfterTenant  Hook = "after_tenant"
	BeforeScript Hook = "before_script"
	AfterScript  Hook = "after_script"
	OnError      Hook = "on_error"
)

// Context is passed to every handler invocation. Metadata is the user-defined
// bag that handlers read and extend; script fields are zero outside the
// per-script hooks (CurrentScriptIndex is -1 there).
type Context struct {
	JobID              string
	TenantID           string
	Script             migration.Script
	Scripts            migration.ScriptSet
	CurrentScriptIndex int
	Metadata           map[string]any
}

// NewContext builds a hook context with an initialized metadata bag.
func NewContext(jobID, tenantID string, scripts migration.ScriptSet) *Context {
	return &Context{
		JobID:              jobID,
		TenantID:           tenantID,
		Scripts:            scripts,
		CurrentScriptIndex: -1,
		Metadata:           make(map[string]any),
	}
}

// MergeMetadata copies the given mapping into the context metadata,
// overwriting existing keys.
func (c *Context) MergeMetadata(m map[string]any) {
	for k, v := range m {
		c.Metadata[k] = v
	}
}
