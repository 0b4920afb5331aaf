package lidar

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// BridgeStats counts forwarded traffic
type BridgeStats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
	Failed    uint64 `json:"failed"`
}

// Bridge republishes every message seen on the local broker to the public
// broker, preserving topic, payload, QoS and retain flag
type Bridge struct {
	cfg    BridgeConfig
	local  mqtt.Client
	public mqtt.Client

	received  atomic.Uint64
	forwarded atomic.Uint64
	failed    atomic.Uint64
}

// NewBridge builds paho clients for both ends of cfg
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Local.URL == "" || cfg.Public.URL == "" {
		return nil, fmt.Errorf("bridge requires both local and public broker URLs")
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{"#"}
	}

	b := &Bridge{cfg: cfg}
	b.local = mqtt.NewClient(bridgeClientOptions(cfg.Local, "bridge_local_", b.onLocalConnect))
	b.public = mqtt.NewClient(bridgeClientOptions(cfg.Public, "bridge_public_", nil))
	return b, nil
}

// newBridgeWithClients wires a bridge to existing clients, for tests
func newBridgeWithClients(cfg BridgeConfig, local, public mqtt.Client) *Bridge {
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{"#"}
	}
	return &Bridge{cfg: cfg, local: local, public: public}
}

func bridgeClientOptions(bc BrokerConfig, idPrefix string, onConnect mqtt.OnConnectHandler) *mqtt.ClientOptions {
	clientID := bc.ClientID
	if clientID == "" {
		clientID = idPrefix + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(bc.URL)
	opts.SetClientID(clientID)
	if bc.Username != "" {
		opts.SetUsername(bc.Username)
		opts.SetPassword(bc.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[BRIDGE] Connection to %s lost: %v", bc.URL, err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Printf("[BRIDGE] Reconnecting to %s...", bc.URL)
	})
	return opts
}

// Start connects the public side first, then the local side, waiting for
// each until ctx is done. Forwarding subscriptions are installed on every
// local (re)connect.
func (b *Bridge) Start(ctx context.Context) error {
	log.Printf("[BRIDGE] Connecting to public broker %s", b.cfg.Public.URL)
	if err := waitToken(ctx, b.public.Connect()); err != nil {
		return fmt.Errorf("connecting to public broker: %w", err)
	}

	log.Printf("[BRIDGE] Connecting to local broker %s", b.cfg.Local.URL)
	if err := waitToken(ctx, b.local.Connect()); err != nil {
		return fmt.Errorf("connecting to local broker: %w", err)
	}
	return nil
}

// Subscribe installs the forwarding subscriptions on the local broker
func (b *Bridge) Subscribe() error {
	filters := make(map[string]byte, len(b.cfg.Topics))
	for _, t := range b.cfg.Topics {
		filters[t] = 1
	}
	token := b.local.SubscribeMultiple(filters, b.forward)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %v: %w", b.cfg.Topics, token.Error())
	}
	log.Printf("[BRIDGE] Subscribed to local topics %v", b.cfg.Topics)
	return nil
}

func (b *Bridge) onLocalConnect(mqtt.Client) {
	log.Println("[BRIDGE] Connected to local broker")
	if err := b.Subscribe(); err != nil {
		log.Printf("[BRIDGE] %v", err)
	}
}

// forward republishes one local message. Failures are counted and logged.
func (b *Bridge) forward(_ mqtt.Client, msg mqtt.Message) {
	b.received.Add(1)

	token := b.public.Publish(msg.Topic(), msg.Qos(), msg.Retained(), msg.Payload())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.failed.Add(1)
		log.Printf("[BRIDGE] Forwarding %s failed: %v", msg.Topic(), token.Error())
		return
	}
	b.forwarded.Add(1)
}

// Stats returns forwarding counters
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Received:  b.received.Load(),
		Forwarded: b.forwarded.Load(),
		Failed:    b.failed.Load(),
	}
}

// Stop disconnects both ends
func (b *Bridge) Stop() {
	log.Println("[BRIDGE] Closing MQTT connections...")
	b.local.Disconnect(250)
	b.public.Disconnect(250)
}

// waitToken blocks until the token completes or ctx is done
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
