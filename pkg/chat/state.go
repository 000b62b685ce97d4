package chat

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// SendState is the state of the single send a conversation can have in
// flight.
type SendState string

const (
	StateIdle          SendState = "idle"
	StateAwaitingReply SendState = "awaiting-reply"
	StateResolved      SendState = "resolved"
	StateFailed        SendState = "failed"
)

var ErrIllegalTransition = errors.New("illegal send state transition")

var transitions = map[SendState][]SendState{
	StateIdle:          {StateAwaitingReply},
	StateAwaitingReply: {StateResolved, StateFailed},
	StateResolved:      {StateIdle},
	StateFailed:        {StateIdle},
}

func CanTransition(from, to SendState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionError struct {
	From SendState
	To   SendState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// SendMachine tracks the state of one conversation's send.
type SendMachine struct {
	mu    sync.Mutex
	state SendState
}

func NewSendMachine() *SendMachine {
	return &SendMachine{state: StateIdle}
}

func (m *SendMachine) State() SendState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SendMachine) Transition(to SendState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return &TransitionError{From: m.state, To: to}
	}
	m.state = to
	return nil
}
