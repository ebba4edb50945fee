package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"pairchat/internal/apperr"
	"pairchat/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

func publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent("lifecycle", event)
	_ = observability.PublishEvent(ctx, observability.RoutingKeyPresence, observability.NewEnvelope(
		"ws_events", event, info.lifecyclePayload(event, reason),
	), observability.BuildHeaders(info.RequestID, info.TraceID))
}

// decode unmarshals an inbound event's data; empty data decodes to the zero value.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.InvalidArg("malformed event data")
	}
	return nil
}

func publicError(err error) string {
	return apperr.MessageOf(err, "internal error")
}
