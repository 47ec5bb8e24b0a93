package daemon

import (
	"time"

	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// BusEmitter publishes outbound stanzas on the process bus under the
// "xmpp.out" kind. The component transport subscribes there and puts
// them on the wire; tests subscribe the same way.
type BusEmitter struct {
	bus    *bus.Bus
	logger *zap.Logger
}

func NewBusEmitter(b *bus.Bus, logger *zap.Logger) *BusEmitter {
	return &BusEmitter{bus: b, logger: logger}
}

func (e *BusEmitter) Emit(st xmpp.Stanza) {
	e.logger.Debug("outbound stanza",
		zap.String("kind", string(st.Kind)),
		zap.String("to", st.To.String()),
		zap.String("id", st.ID))
	e.bus.Publish(bus.Event{
		Kind:      "xmpp.out",
		User:      st.To.String(),
		Timestamp: time.Now(),
		Payload:   st,
	})
}
