package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/bestorange88/IM/domain/call"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/go-monolith/mono/pkg/types"
)

// Relay forwards a signal to the single connection registered for its
// target.
type Relay struct {
	registry *registry.Registry
	logger   types.Logger
}

// NewRelay creates a relay over reg.
func NewRelay(reg *registry.Registry, logger types.Logger) *Relay {
	return &Relay{registry: reg, logger: logger}
}

// Registry returns the identity registry of signaling connections.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// Relay delivers msg from sender to msg.To. The from field is overwritten
// with the sender's registered identity and the payload is forwarded as is.
// When the target cannot be reached the sender receives an unavailable frame
// and ErrRecipientUnavailable is returned.
func (r *Relay) Relay(sender *registry.Conn, msg call.SignalMessage) error {
	from := sender.Identity()
	if from == "" || sender.Closed() {
		return ErrNotRegistered
	}
	if !msg.Type.Relayable() {
		return fmt.Errorf("%w: %q", ErrUnsupportedSignal, msg.Type)
	}
	if msg.To == "" || msg.To == from {
		return ErrInvalidRecipient
	}

	msg.From = from
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	target, ok := r.registry.Lookup(msg.To)
	if !ok {
		r.logger.Debug("Signal target offline", "from", from, "to", msg.To, "signal", msg.Type)
		r.notifyUnavailable(sender, msg)
		return ErrRecipientUnavailable
	}
	if err := target.Send(frame); err != nil {
		r.logger.Debug("Signal delivery failed", "from", from, "to", msg.To, "signal", msg.Type, "error", err)
		r.notifyUnavailable(sender, msg)
		return ErrRecipientUnavailable
	}

	r.logger.Debug("Signal relayed", "from", from, "to", msg.To, "signal", msg.Type)
	return nil
}

// notifyUnavailable tells the sender that msg could not be delivered. The
// frame reads as if it came from the unreachable peer.
func (r *Relay) notifyUnavailable(sender *registry.Conn, msg call.SignalMessage) {
	notice, err := call.NewSignal(call.SignalUnavailable, msg.From, call.ReasonPayload{
		Reason: call.ReasonUnavailable,
		Signal: msg.Type,
	})
	if err != nil {
		return
	}
	notice.From = msg.To
	if err := sender.SendJSON(notice); err != nil {
		r.logger.Debug("Could not notify sender", "to", msg.From, "error", err)
	}
}
