// Package call defines the call-signaling wire types and the per-endpoint
// call state machine.
package call

import "encoding/json"

// SignalType identifies a signaling frame.
type SignalType string

// Frames exchanged between two endpoints through the relay.
const (
	SignalCall      SignalType = "call"
	SignalAccept    SignalType = "accept"
	SignalReject    SignalType = "reject"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalHangup    SignalType = "hangup"
	SignalCancel    SignalType = "cancel"
	SignalMedia     SignalType = "media"
)

// Frames exchanged between an endpoint and the relay itself.
const (
	SignalRegister    SignalType = "register"
	SignalRegistered  SignalType = "registered"
	SignalUnavailable SignalType = "unavailable"
	SignalError       SignalType = "error"
)

// Relayable reports whether the relay forwards this type to a peer.
func (t SignalType) Relayable() bool {
	switch t {
	case SignalCall, SignalAccept, SignalReject,
		SignalOffer, SignalAnswer, SignalCandidate,
		SignalHangup, SignalCancel, SignalMedia:
		return true
	}
	return false
}

// SignalMessage is a single call-control frame. Data is opaque to the relay.
type SignalMessage struct {
	Type SignalType      `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Media is the kind of call being set up.
type Media string

const (
	MediaAudio Media = "audio"
	MediaVideo Media = "video"
)

// Valid reports whether m is a known media kind.
func (m Media) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// CallPayload is carried by a call signal.
type CallPayload struct {
	Media Media `json:"media"`
}

// ReasonPayload explains a reject, hangup or unavailable signal.
type ReasonPayload struct {
	Reason string     `json:"reason"`
	Signal SignalType `json:"signal,omitempty"`
}

// MediaStatePayload is carried by a media signal when a peer toggles its
// microphone or camera.
type MediaStatePayload struct {
	Audio *bool `json:"audio,omitempty"`
	Video *bool `json:"video,omitempty"`
}

// Reasons used in ReasonPayload.
const (
	ReasonBusy        = "busy"
	ReasonDeclined    = "declined"
	ReasonUnavailable = "recipient unavailable"
)

// NewSignal builds a signal to peer with an optional JSON payload.
func NewSignal(t SignalType, to string, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, To: to}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, err
	}
	msg.Data = data
	return msg, nil
}

// DecodeData unmarshals the payload of msg into v. An empty payload leaves v
// untouched.
func DecodeData(msg SignalMessage, v any) error {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil
	}
	return json.Unmarshal(msg.Data, v)
}
