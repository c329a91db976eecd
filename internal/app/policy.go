package app

import (
	"fmt"

	"github.com/dkeye/taskboard-relay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(sess core.MemberSession) BackpressureAction
}

// DropPolicy skips the frame for the slow peer and keeps it connected.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.MemberSession) BackpressureAction { return DropFrame }

// KickPolicy closes the slow peer; the client is expected to reconnect
// and re-fetch state.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.MemberSession) BackpressureAction { return KickMember }

// PolicyByName maps the slow_consumer config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown slow_consumer policy %q", name)
}
