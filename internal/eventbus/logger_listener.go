package eventbus

import (
	"context"

	"github.com/leetgaming-pro/replay-minimap/internal/logging"
)

// StartLoggingListener подписывается на все события, кроме кадров, и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		if ev.EventType == TypePlaybackFrame {
			return
		}
		logging.Debug("[EventBus] %s %s corr=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.CorrelationID, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
