package connection

import (
	"fmt"

	lock "github.com/viney-shih/go-lock"
)

// Status is the lifecycle level of a managed connection.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// stateMachine is the thread-safe status holder for one connection. The
// manager goroutine drives transitions; dial goroutines read concurrently.
type stateMachine struct {
	latch  lock.RWMutex
	status Status
}

func newStateMachine() *stateMachine {
	return &stateMachine{latch: lock.NewCASMutex(), status: StatusConnected}
}

func (s *stateMachine) Status() Status {
	s.latch.RLock()
	defer s.latch.RUnlock()
	return s.status
}

func (s *stateMachine) transit(from, to Status) error {
	s.latch.Lock()
	defer s.latch.Unlock()
	if s.status != from {
		return fmt.Errorf("cannot move %s connection to %s", s.status, to)
	}
	s.status = to
	return nil
}

func (s *stateMachine) set(to Status) {
	s.latch.Lock()
	defer s.latch.Unlock()
	s.status = to
}
