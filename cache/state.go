package cache

import (
	"sync/atomic"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type lifecycle struct {
	state atomic.Value
}

func (l *lifecycle) init() {
	l.state.Store(StateStopped)
}

func (l *lifecycle) getState() State {
	return l.state.Load().(State)
}

func (l *lifecycle) setState(newState State) {
	l.state.Store(newState)
}

func (l *lifecycle) transitionState(from, to State) bool {
	return l.state.CompareAndSwap(from, to)
}

func (l *lifecycle) IsRunning() bool {
	return l.getState() == StateRunning
}
