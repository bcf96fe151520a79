package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// subjectPrefix is the NATS subject space for room broadcasts; one subject
// per room key.
const subjectPrefix = "rooms.evt."

// NATSBridgeConfig holds connection settings for the cross-instance bridge.
type NATSBridgeConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSBridgeConfig returns the default bridge settings.
func DefaultNATSBridgeConfig() NATSBridgeConfig {
	return NATSBridgeConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// bridgeEnvelope tags a broadcast with its publishing instance so a gateway
// never re-delivers its own frames.
type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NATSBridge republishes room broadcasts over NATS so gateways on other
// instances can fan them out to their own connection pools. Room state is
// the engine's only cross-instance traffic; every instance remains
// authoritative for its own sockets.
type NATSBridge struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	instanceID string
}

// NewNATSBridge connects to NATS and subscribes the given connection
// manager to remote room broadcasts.
func NewNATSBridge(cfg NATSBridgeConfig, cm *ConnectionManager) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBridge{nc: nc, instanceID: uuid.NewString()}
	sub, err := nc.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		var env bridgeEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed bridge envelope")
			return
		}
		if env.Origin == b.instanceID {
			return
		}
		roomID := msg.Subject[len(subjectPrefix):]
		cm.DeliverRoom(roomID, env.Payload)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to room broadcasts: %w", err)
	}
	b.sub = sub

	log.Info().Str("instance_id", b.instanceID).Msg("NATS bridge started")
	return b, nil
}

// Publish forwards a room broadcast to the other instances.
func (b *NATSBridge) Publish(roomID string, data []byte) error {
	env, err := json.Marshal(bridgeEnvelope{Origin: b.instanceID, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal bridge envelope: %w", err)
	}
	return b.nc.Publish(subjectPrefix+roomID, env)
}

// Close drains the subscription and disconnects.
func (b *NATSBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}

var _ Broadcaster = (*NATSBridge)(nil)
