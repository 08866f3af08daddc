package relay

import (
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
)

// Bus fans account notifications out to the persistence worker and the
// outbound publisher.
//
// The persistence channel uses a blocking send: the notification log is the
// system of record, so emitters stall under backpressure rather than lose a
// row. The publish channel uses a non-blocking send with drop: NATS consumers
// can re-read missed events from the notification log.
type Bus struct {
	persistChan chan<- event.Notification
	publishChan chan<- event.Notification

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewBus(persistChan, publishChan chan<- event.Notification, metrics *observability.Metrics, log zerolog.Logger) *Bus {
	return &Bus{
		persistChan: persistChan,
		publishChan: publishChan,
		metrics:     metrics,
		log:         log,
	}
}

func (b *Bus) Emit(n event.Notification) {
	b.persistChan <- n

	select {
	case b.publishChan <- n:
	default:
		if b.metrics != nil {
			b.metrics.RelayDrops.Inc()
		}
		b.log.Debug().Str("event_type", n.Type.String()).Msg("publish channel full, notification dropped")
	}
}

var _ event.Emitter = (*Bus)(nil)
