package channels

import (
	"context"

	"github.com/aapchat/aapchat/pkg/bus"
	"github.com/aapchat/aapchat/pkg/config"
	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/session"
)

// Channel is one human-facing gateway.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Manager starts the enabled gateways and pumps outbound bus messages to
// the gateway each one names.
type Manager struct {
	bus      *bus.MessageBus
	channels map[string]Channel
}

func NewManager(cfg config.ChannelsConfig, msgBus *bus.MessageBus, store *session.Store, login LoginFunc) *Manager {
	m := &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
	}

	if cfg.WebSocket.Enabled {
		ws := NewWebSocketChannel(cfg.WebSocket, msgBus, store, login)
		m.channels[ws.Name()] = ws
	}

	return m
}

// StartAll starts every enabled channel and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return err
		}
		logger.InfoCF("channels", "Channel started", map[string]any{"channel": name})
	}

	go m.dispatchOutbound(ctx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

// Count returns the number of enabled channels.
func (m *Manager) Count() int { return len(m.channels) }

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		ch, exists := m.channels[msg.Channel]
		if !exists {
			logger.WarnCF("channels", "Outbound message for unknown channel", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			logger.DebugCF("channels", "Outbound delivery failed", map[string]any{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}
