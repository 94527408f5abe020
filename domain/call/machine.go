package call

import (
	"errors"
	"fmt"
	"sync"
)

// State is the call state of one endpoint.
type State string

const (
	StateIdle     State = "idle"
	StateCalling  State = "calling"
	StateIncoming State = "incoming"
	StateInCall   State = "in-call"
)

// Direction records which side started the call.
type Direction string

const (
	DirectionCaller Direction = "caller"
	DirectionCallee Direction = "callee"
)

var (
	// ErrInvalidTransition is returned when a local action is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid call state transition")
	// ErrUnexpectedSignal is returned when an inbound signal does not fit the
	// current state or comes from someone other than the current peer. The
	// signal is ignored.
	ErrUnexpectedSignal = errors.New("unexpected signal")
	// ErrBusy is returned when a call arrives while another one is active.
	ErrBusy = errors.New("endpoint busy")
	// ErrPeerRequired is returned when a call is started without a target.
	ErrPeerRequired = errors.New("peer identity is required")
)

// Session is one endpoint's view of the current call. It is the zero value
// with StateIdle when no call is active.
type Session struct {
	Peer      string    `json:"peer,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Media     Media     `json:"media,omitempty"`
	State     State     `json:"state"`
}

// Transition describes a state change.
type Transition struct {
	From  State
	To    State
	Peer  string
	Cause SignalType
}

// Outcome is the result of handling an inbound signal.
type Outcome struct {
	Transition
	// Deliver is set for offer, answer, candidate and media signals that
	// belong to the active call and should reach the media layer.
	Deliver bool
	// Reply is a signal the endpoint should send back, if any.
	Reply *SignalMessage
}

// Option configures a Machine.
type Option func(*Machine)

// WithTransitionHook registers fn to run after every state change. It is
// called outside the machine's lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Machine) {
		m.hook = fn
	}
}

// Machine is the call state machine owned by a single endpoint. It is safe
// for concurrent use.
type Machine struct {
	mu      sync.Mutex
	session Session
	hook    func(Transition)
}

// NewMachine returns a machine in the idle state.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{session: Session{State: StateIdle}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Session returns a copy of the current session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// StartCall moves idle -> calling and returns the call signal to send.
func (m *Machine) StartCall(peer string, media Media) (SignalMessage, error) {
	if peer == "" {
		return SignalMessage{}, ErrPeerRequired
	}
	if !media.Valid() {
		media = MediaAudio
	}
	sig, err := NewSignal(SignalCall, peer, CallPayload{Media: media})
	if err != nil {
		return SignalMessage{}, err
	}

	m.mu.Lock()
	if m.session.State != StateIdle {
		state := m.session.State
		m.mu.Unlock()
		return SignalMessage{}, fmt.Errorf("%w: call from %s", ErrInvalidTransition, state)
	}
	m.session = Session{Peer: peer, Direction: DirectionCaller, Media: media, State: StateCalling}
	m.mu.Unlock()

	m.notify(Transition{From: StateIdle, To: StateCalling, Peer: peer, Cause: SignalCall})
	return sig, nil
}

// Accept moves incoming -> in-call and returns the accept signal.
func (m *Machine) Accept() (SignalMessage, error) {
	return m.local(SignalAccept, nil, StateInCall, StateIncoming)
}

// Reject moves incoming -> idle and returns the reject signal.
func (m *Machine) Reject() (SignalMessage, error) {
	return m.local(SignalReject, ReasonPayload{Reason: ReasonDeclined}, StateIdle, StateIncoming)
}

// Cancel moves calling -> idle before the callee answered and returns the
// cancel signal.
func (m *Machine) Cancel() (SignalMessage, error) {
	return m.local(SignalCancel, nil, StateIdle, StateCalling)
}

// Hangup moves in-call -> idle and returns the hangup signal.
func (m *Machine) Hangup() (SignalMessage, error) {
	return m.local(SignalHangup, nil, StateIdle, StateInCall)
}

// Outgoing builds an offer, answer, candidate or media signal for the peer of
// the active call.
func (m *Machine) Outgoing(t SignalType, payload any) (SignalMessage, error) {
	switch t {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalMedia:
	default:
		return SignalMessage{}, fmt.Errorf("%w: %s is not an in-call signal", ErrInvalidTransition, t)
	}

	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session.State != StateInCall {
		return SignalMessage{}, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, session.State)
	}
	return NewSignal(t, session.Peer, payload)
}

// local applies a user action that is valid only in state from and ends in
// state to.
func (m *Machine) local(t SignalType, payload any, to State, from State) (SignalMessage, error) {
	m.mu.Lock()
	if m.session.State != from {
		state := m.session.State
		m.mu.Unlock()
		return SignalMessage{}, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, state)
	}
	peer := m.session.Peer
	m.setState(to)
	m.mu.Unlock()

	m.notify(Transition{From: from, To: to, Peer: peer, Cause: t})
	return NewSignal(t, peer, payload)
}

// Receive applies an inbound signal. Signals that do not fit the current
// state return ErrUnexpectedSignal and leave the state unchanged. A reject
// from the current peer ends the call in any state.
func (m *Machine) Receive(msg SignalMessage) (Outcome, error) {
	m.mu.Lock()
	from := m.session.State
	peer := m.session.Peer
	out := Outcome{Transition: Transition{From: from, To: from, Peer: peer, Cause: msg.Type}}

	if msg.Type == SignalCall {
		m.mu.Unlock()
		return m.receiveCall(msg, out)
	}

	if from == StateIdle || msg.From != peer {
		m.mu.Unlock()
		return out, fmt.Errorf("%w: %s from %q while %s", ErrUnexpectedSignal, msg.Type, msg.From, from)
	}

	var to State
	switch {
	case msg.Type == SignalAccept && from == StateCalling:
		to = StateInCall
	case msg.Type == SignalReject:
		// Peers that only speak reject use it to cancel and to hang up too.
		to = StateIdle
	case msg.Type == SignalCancel && from == StateIncoming:
		to = StateIdle
	case msg.Type == SignalHangup:
		to = StateIdle
	case msg.Type == SignalUnavailable && (from == StateCalling || from == StateInCall):
		to = StateIdle
	case isInCallSignal(msg.Type) && from == StateInCall:
		m.mu.Unlock()
		out.Deliver = true
		return out, nil
	default:
		m.mu.Unlock()
		return out, fmt.Errorf("%w: %s while %s", ErrUnexpectedSignal, msg.Type, from)
	}

	m.setState(to)
	m.mu.Unlock()

	out.To = to
	m.notify(out.Transition)
	return out, nil
}

func (m *Machine) receiveCall(msg SignalMessage, out Outcome) (Outcome, error) {
	if msg.From == "" {
		return out, fmt.Errorf("%w: call without sender", ErrUnexpectedSignal)
	}

	var payload CallPayload
	if err := DecodeData(msg, &payload); err != nil || !payload.Media.Valid() {
		payload.Media = MediaAudio
	}

	m.mu.Lock()
	if m.session.State == StateCalling && m.session.Peer == msg.From && yields(msg) {
		// Both sides called each other. The lower identity answers the
		// other's call instead of waiting on its own.
		m.session = Session{Peer: msg.From, Direction: DirectionCallee, Media: payload.Media, State: StateIncoming}
		m.mu.Unlock()

		out.To = StateIncoming
		m.notify(out.Transition)
		return out, nil
	}
	if m.session.State != StateIdle && m.session.Peer == msg.From {
		state := m.session.State
		m.mu.Unlock()
		return out, fmt.Errorf("%w: repeated call while %s", ErrUnexpectedSignal, state)
	}
	if m.session.State != StateIdle {
		m.mu.Unlock()
		reply, err := NewSignal(SignalReject, msg.From, ReasonPayload{Reason: ReasonBusy})
		if err == nil {
			out.Reply = &reply
		}
		return out, ErrBusy
	}
	m.session = Session{Peer: msg.From, Direction: DirectionCallee, Media: payload.Media, State: StateIncoming}
	m.mu.Unlock()

	out.To = StateIncoming
	out.Peer = msg.From
	m.notify(out.Transition)
	return out, nil
}

// ConnectionLost resets the machine to idle after the signaling connection
// dropped. It counts as an implicit hangup.
func (m *Machine) ConnectionLost() Transition {
	m.mu.Lock()
	t := Transition{From: m.session.State, To: StateIdle, Peer: m.session.Peer, Cause: SignalHangup}
	m.setState(StateIdle)
	m.mu.Unlock()

	if t.From != StateIdle {
		m.notify(t)
	}
	return t
}

// setState must be called with mu held.
func (m *Machine) setState(s State) {
	if s == StateIdle {
		m.session = Session{State: StateIdle}
		return
	}
	m.session.State = s
}

func (m *Machine) notify(t Transition) {
	if m.hook != nil && t.From != t.To {
		m.hook(t)
	}
}

// yields reports whether the receiver of a crossing call gives up its own.
func yields(msg SignalMessage) bool {
	return msg.To != "" && msg.To < msg.From
}

func isInCallSignal(t SignalType) bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalMedia:
		return true
	}
	return false
}
