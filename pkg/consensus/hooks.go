package consensus

import "fmt"

// HookPoint names one bracketed lifecycle transition.
type HookPoint int

const (
	PreStart HookPoint = iota
	PostStart
	PreConfigChange
	PostConfigChange
	PreReplicate
	PostReplicate
	PreUpdate
	PostUpdate
	PreShutdown
	PostShutdown
)

func (p HookPoint) String() string {
	switch p {
	case PreStart:
		return "pre_start"
	case PostStart:
		return "post_start"
	case PreConfigChange:
		return "pre_config_change"
	case PostConfigChange:
		return "post_config_change"
	case PreReplicate:
		return "pre_replicate"
	case PostReplicate:
		return "post_replicate"
	case PreUpdate:
		return "pre_update"
	case PostUpdate:
		return "post_update"
	case PreShutdown:
		return "pre_shutdown"
	case PostShutdown:
		return "post_shutdown"
	}
	return fmt.Sprintf("hook_point(%d)", int(p))
}

// FaultHooks brackets lifecycle transitions with injectable callbacks, used
// by tests to simulate crash-at-point-X semantics. A failing hook aborts the
// transition in progress. Installation happens during test setup only, never
// concurrently with active transitions.
type FaultHooks interface {
	PreStart() error
	PostStart() error
	PreConfigChange() error
	PostConfigChange() error
	PreReplicate() error
	PostReplicate() error
	PreUpdate() error
	PostUpdate() error
	PreShutdown() error
	PostShutdown() error
}

// NopFaultHooks succeeds at every point. Test hooks embed it and override
// only the points they care about.
type NopFaultHooks struct{}

func (NopFaultHooks) PreStart() error         { return nil }
func (NopFaultHooks) PostStart() error        { return nil }
func (NopFaultHooks) PreConfigChange() error  { return nil }
func (NopFaultHooks) PostConfigChange() error { return nil }
func (NopFaultHooks) PreReplicate() error     { return nil }
func (NopFaultHooks) PostReplicate() error    { return nil }
func (NopFaultHooks) PreUpdate() error        { return nil }
func (NopFaultHooks) PostUpdate() error       { return nil }
func (NopFaultHooks) PreShutdown() error      { return nil }
func (NopFaultHooks) PostShutdown() error     { return nil }

var _ FaultHooks = NopFaultHooks{}
