package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"baton/internal/contracts"
	"baton/internal/idempotency"

	"go.uber.org/zap"
)

// Handler is the inbound edge of the engine: it deduplicates transport
// deliveries by event id before any transition runs, so redelivered messages
// are at-most-once against the state machine.
type Handler struct {
	engine *Engine
	idem   idempotency.Store
	log    *zap.Logger
}

// NewHandler constructs a Handler over the engine and idempotency store.
func NewHandler(engine *Engine, idem idempotency.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, idem: idem, log: log}
}

// Handle routes a transport envelope into the saga named by its type prefix.
func (h *Handler) Handle(ctx context.Context, env contracts.Envelope) error {
	sagaType, err := sagaTypeFor(env.Type)
	if err != nil {
		return err
	}

	key := idempotency.Key("saga-engine", env.Type, env.EventID)
	outcome, err := h.idem.TryCreate(ctx, key, env.CorrelationID)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", env.EventID, err)
	}
	if outcome == idempotency.AlreadyExists {
		rec, err := h.idem.Find(ctx, key, env.CorrelationID)
		if err == nil && rec.Completed() {
			h.log.Debug("replayed delivery, cached outcome",
				zap.String("event_id", env.EventID),
				zap.String("event_type", env.Type))
			return nil
		}
		// Claimed but not finished: another worker is mid-flight. The
		// transport will redeliver if that worker dies.
		h.log.Debug("event claimed by concurrent worker", zap.String("event_id", env.EventID))
		return nil
	}

	inst, _, err := h.engine.Apply(ctx, sagaType, env)
	if err != nil {
		// Drop the claim before erroring: keeping it would make every
		// redelivery a no-op and lose the event for good.
		if relErr := h.idem.Release(ctx, key, env.CorrelationID); relErr != nil {
			h.log.Warn("release idempotency claim failed",
				zap.String("event_id", env.EventID), zap.Error(relErr))
		}
		return err
	}

	summary, err := json.Marshal(map[string]string{
		"correlation_id": inst.CorrelationID,
		"state":          string(inst.CurrentState),
	})
	if err != nil {
		return err
	}
	if err := h.idem.PersistResponse(ctx, key, env.CorrelationID, 200, summary); err != nil {
		h.log.Warn("persist idempotent response failed",
			zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}

func sagaTypeFor(eventType string) (Type, error) {
	prefix, _, ok := strings.Cut(eventType, ".")
	if !ok {
		return "", fmt.Errorf("%w: malformed event type %q", ErrUnknownSaga, eventType)
	}
	switch prefix {
	case "checkout":
		return TypeCheckout, nil
	case "cancellation":
		return TypeCancellation, nil
	case "return":
		return TypeReturnRefund, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownSaga, prefix)
	}
}
