package ws

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/analytics"
)

// Feed publishes analytics cycles to the hub group named after the
// cycle's underlying.
type Feed struct {
	hub     *Hub
	encoder *Encoder
	logger  *zap.Logger
}

func NewFeed(hub *Hub, logger *zap.Logger) *Feed {
	return &Feed{hub: hub, encoder: hub.encoder, logger: logger}
}

// Publish renders the cycle once per protocol and broadcasts it.
func (f *Feed) Publish(_ context.Context, cycle *analytics.Cycle) error {
	payload, err := toFields(cycle)
	if err != nil {
		return fmt.Errorf("converting cycle: %w", err)
	}

	group := strings.ToUpper(cycle.Underlying)
	frames, err := f.encoder.Frames(dataMessage(group, payload))
	if err != nil {
		return fmt.Errorf("encoding cycle: %w", err)
	}

	n := f.hub.BroadcastFrames(group, frames)
	f.logger.Debug("cycle pushed to websocket subscribers",
		zap.String("cycle_id", cycle.ID),
		zap.String("group", group),
		zap.Int("clients", n),
		zap.Int("json_bytes", len(frames.JSON)),
		zap.Int("binary_bytes", len(frames.Binary)),
	)
	return nil
}
