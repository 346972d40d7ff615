package session

import "sync/atomic"

// Permissions is the platform microphone permission collaborator. Request
// starts the platform flow; its outcome arrives via Controller.OnPermissionResult.
type Permissions interface {
	Granted() bool
	Request()
}

// StaticPermissions reports a fixed grant, for platforms without a runtime prompt.
type StaticPermissions struct {
	granted atomic.Bool
}

// NewStaticPermissions returns a permission source that always answers granted.
func NewStaticPermissions(granted bool) *StaticPermissions {
	p := &StaticPermissions{}
	p.granted.Store(granted)
	return p
}

func (p *StaticPermissions) Granted() bool {
	return p.granted.Load()
}

func (p *StaticPermissions) Request() {}

// Set changes the reported grant.
func (p *StaticPermissions) Set(granted bool) {
	p.granted.Store(granted)
}
