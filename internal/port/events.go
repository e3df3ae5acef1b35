package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}

type PlacementObserver interface {
	ObservePlacement(status domain.OutcomeStatus, elapsed time.Duration)
}
