//go:generate go run go.uber.org/mock/mockgen -source=publisher.go -destination=mocks/mock_publisher.go -package=mocks
package messaging

import (
	"context"

	"github.com/vovakirdan/wiredm/internal/core"
)

// Publisher pushes events to a user channel and reports how many live
// connections accepted them. The Hub implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev *core.Event) int
}

var _ Publisher = (*core.Hub)(nil)
