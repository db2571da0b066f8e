package app

import "github.com/dkeye/callsignal/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(conn domain.ConnID) BackpressureAction
}

// SimplePolicy kicks slow consumers. Their disconnect runs the regular
// cleanup and the client reconciles on reconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return NoAction
}
