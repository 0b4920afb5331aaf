package lidar

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("MQTT client not connected")

// LidarHandler is called after every lidar message has been ingested.
// payload is the raw message body, useful for recording.
type LidarHandler func(topic string, payload []byte, result IngestResult)

// MQTTClient subscribes to the robot topics and feeds the lidar pipeline and
// the telemetry state
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	pipeline     *Pipeline
	telemetry    *TelemetryState
	lidarHandler LidarHandler
	isConnected  bool
	stop         chan struct{}
	stopOnce     sync.Once
	mu           sync.RWMutex
}

// DefaultClientID returns a random dashboard client identifier
func DefaultClientID() string {
	return "robot_dashboard_" + uuid.NewString()[:8]
}

// InitMQTT creates and starts the dashboard MQTT client.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and
// this returns nil.
func InitMQTT(config *Config, pipeline *Pipeline, telemetry *TelemetryState, handler LidarHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if pipeline == nil {
		return nil, fmt.Errorf("MQTT enabled but no lidar pipeline provided")
	}

	client := newMQTTClient(nil, config, pipeline, telemetry, handler)
	config = client.config

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = DefaultClientID()
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(4 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true) // lidar messages must be ingested in arrival order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

func newMQTTClient(c mqtt.Client, config *Config, pipeline *Pipeline, telemetry *TelemetryState, handler LidarHandler) *MQTTClient {
	if config == nil {
		config = &Config{}
	}
	config.MQTT.Topics = config.MQTT.Topics.WithDefaults()
	if telemetry == nil {
		telemetry = NewTelemetryState()
	}
	return &MQTTClient{
		client:       c,
		config:       config,
		pipeline:     pipeline,
		telemetry:    telemetry,
		lidarHandler: handler,
		stop:         make(chan struct{}),
	}
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
			c.telemetry.SetConnectionStatus(StatusError)
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		select {
		case <-c.stop:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// topicRoutes maps each subscribed topic to its handler
func (c *MQTTClient) topicRoutes() map[string]mqtt.MessageHandler {
	t := c.config.MQTT.Topics
	telemetry := func(name string, update func([]byte) error) mqtt.MessageHandler {
		return func(_ mqtt.Client, msg mqtt.Message) {
			if err := update(msg.Payload()); err != nil {
				log.Printf("Error processing %s message on %s: %v", name, msg.Topic(), err)
			}
		}
	}
	detection := func(update func([]byte) bool) func([]byte) error {
		return func(p []byte) error {
			update(p)
			return nil
		}
	}

	return map[string]mqtt.MessageHandler{
		t.Lidar:     c.handleLidar,
		t.Obstacle:  telemetry("obstacle", c.telemetry.UpdateObstacle),
		t.Magnetic:  telemetry("magnetic", detection(c.telemetry.UpdateMagnetic)),
		t.Alcohol:   telemetry("alcohol", c.telemetry.UpdateAlcohol),
		t.Vibration: telemetry("vibration", detection(c.telemetry.UpdateVibration)),
		t.Camera:    telemetry("camera", c.telemetry.UpdateCamera),
		t.MapData:   telemetry("map", c.telemetry.UpdateMap),
		t.Position:  telemetry("position", c.telemetry.UpdatePosition),
		t.Decision:  telemetry("decision", c.telemetry.UpdateDecision),
		t.Status:    telemetry("status", c.telemetry.UpdateSystemStatus),
	}
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to robot topics...")
	c.setConnected(true)

	for topic, handler := range c.topicRoutes() {
		token := client.Subscribe(topic, 0, handler)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", topic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", topic)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// handleLidar feeds one lidar message through the pipeline
func (c *MQTTClient) handleLidar(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	result := c.pipeline.Ingest(payload)

	if result.Kind.IsLegacy() && result.Err == nil {
		log.Printf("[LIDAR] %s scan on %s: %d points", result.Kind, msg.Topic(), result.Accepted)
	}

	if c.lidarHandler != nil {
		c.lidarHandler(msg.Topic(), payload, result)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	c.isConnected = connected
	c.mu.Unlock()

	if connected {
		c.telemetry.SetConnectionStatus(StatusOnline)
	} else {
		c.telemetry.SetConnectionStatus(StatusOffline)
	}
}

// Disconnect stops any pending retry and closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Telemetry returns the state fed by the non-lidar topics
func (c *MQTTClient) Telemetry() *TelemetryState {
	return c.telemetry
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client, config *Config, pipeline *Pipeline, telemetry *TelemetryState, handler LidarHandler) *MQTTClient {
	return newMQTTClient(client, config, pipeline, telemetry, handler)
}
