package notify

import (
	"context"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/alert"
)

// Notifier delivers price-drop alerts. Implementations decide the channel;
// a nil or unconfigured notifier drops the message silently.
type Notifier interface {
	Send(ctx context.Context, a alert.Alert) error
}
