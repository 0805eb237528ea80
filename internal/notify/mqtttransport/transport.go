// Package mqtttransport implements the notify.Transport boundary over an
// MQTT broker. It is the delivery path used by headless and development
// builds: each device owns an inbox topic, broadcast channels map onto a
// shared topic namespace, and the device token is the inbox address.
package mqtttransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/doctorondial/patientcore/internal/notify"
	"github.com/doctorondial/patientcore/pkg/logger"
)

const (
	defaultQoS            = 1
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesceMS   = 250
)

// Config configures the MQTT transport. BrokerURL and DeviceID are required.
type Config struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string

	// DeviceID names this device's inbox. The device token handed to the
	// backend is derived from it.
	DeviceID string

	// ClientID overrides the MQTT client identifier. Defaults to the
	// device id.
	ClientID string

	Username string
	Password string

	// QoS for all subscriptions and publishes. Zero takes defaultQoS.
	QoS byte

	Logger *logger.Logger
}

// Transport delivers push messages over MQTT topics:
//
//	patients/<device>/messages    foreground deliveries
//	patients/<device>/background  deliveries while the app is suspended
//	patients/<device>/opened      taps that resume the app
//	topics/<name>                 broadcast channels
type Transport struct {
	cfg    Config
	log    *logger.Logger
	client mqtt.Client

	mu         sync.Mutex
	sawConnect bool
	foreground func(notify.Message)
	background func(notify.Message)
	opened     func(notify.Message)
	refresh    []func(string)
	topics     map[string]struct{}
}

// wirePayload is the JSON body published to delivery topics.
type wirePayload struct {
	ID    string                 `json:"id"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// New builds a Transport. The broker connection is deferred to
// RequestPermission so the ingestor's init sequence owns connectivity.
func New(cfg Config) (*Transport, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtttransport: BrokerURL is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("mqtttransport: DeviceID is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.DeviceID
	}
	if cfg.QoS == 0 {
		cfg.QoS = defaultQoS
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("mqtt-transport")
	}

	t := &Transport{
		cfg:    cfg,
		log:    log,
		topics: map[string]struct{}{},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.log.WithError(err).Warn("broker connection lost")
	})

	t.client = mqtt.NewClient(opts)
	return t, nil
}

// onConnect re-establishes subscriptions after a reconnect and notifies
// token-refresh listeners: a new session means the backend should re-learn
// the inbox address.
func (t *Transport) onConnect(mqtt.Client) {
	t.mu.Lock()
	first := !t.sawConnect
	t.sawConnect = true
	refresh := append([]func(string){}, t.refresh...)
	hasForeground := t.foreground != nil
	hasBackground := t.background != nil
	hasOpened := t.opened != nil
	topics := make([]string, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	if first {
		return
	}
	t.log.Info("reconnected to broker, restoring subscriptions")

	if hasForeground {
		t.subscribe(t.messagesTopic(), t.dispatchForeground)
	}
	if hasBackground {
		t.subscribe(t.backgroundTopic(), t.dispatchBackground)
	}
	if hasOpened {
		t.subscribe(t.openedTopic(), t.dispatchOpened)
	}
	for _, topic := range topics {
		t.subscribe(topic, t.dispatchForeground)
	}
	for _, fn := range refresh {
		fn(t.deviceToken())
	}
}

func (t *Transport) messagesTopic() string {
	return fmt.Sprintf("patients/%s/messages", t.cfg.DeviceID)
}

func (t *Transport) backgroundTopic() string {
	return fmt.Sprintf("patients/%s/background", t.cfg.DeviceID)
}

func (t *Transport) openedTopic() string {
	return fmt.Sprintf("patients/%s/opened", t.cfg.DeviceID)
}

func broadcastTopic(name string) string {
	return "topics/" + name
}

func (t *Transport) deviceToken() string {
	return "mqtt:" + t.messagesTopic()
}

// RequestPermission connects to the broker. A reachable broker is the
// transport's notion of granted permission.
func (t *Transport) RequestPermission(ctx context.Context) (bool, error) {
	if t.client.IsConnected() {
		return true, nil
	}

	token := t.client.Connect()
	if !waitToken(ctx, token) {
		return false, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("connect to broker: %w", err)
	}
	return true, nil
}

// Token returns the device token the backend should address pushes to.
func (t *Transport) Token(context.Context) (string, error) {
	if !t.client.IsConnected() {
		return "", fmt.Errorf("mqtttransport: not connected")
	}
	return t.deviceToken(), nil
}

// OnTokenRefresh registers a reconnect listener.
func (t *Transport) OnTokenRefresh(fn func(string)) (func(), error) {
	t.mu.Lock()
	t.refresh = append(t.refresh, fn)
	idx := len(t.refresh) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.refresh) {
			t.refresh[idx] = func(string) {}
		}
	}, nil
}

// OnMessage subscribes to the device's foreground inbox.
func (t *Transport) OnMessage(fn func(notify.Message)) (func(), error) {
	t.mu.Lock()
	t.foreground = fn
	t.mu.Unlock()

	topic := t.messagesTopic()
	if err := t.subscribe(topic, t.dispatchForeground); err != nil {
		return nil, err
	}
	return func() {
		t.mu.Lock()
		t.foreground = nil
		t.mu.Unlock()
		t.unsubscribe(topic)
	}, nil
}

// SetBackgroundHandler subscribes to the device's background inbox.
func (t *Transport) SetBackgroundHandler(fn func(notify.Message)) (func(), error) {
	t.mu.Lock()
	t.background = fn
	t.mu.Unlock()

	topic := t.backgroundTopic()
	if err := t.subscribe(topic, t.dispatchBackground); err != nil {
		return nil, err
	}
	return func() {
		t.mu.Lock()
		t.background = nil
		t.mu.Unlock()
		t.unsubscribe(topic)
	}, nil
}

// OnNotificationOpened subscribes to the device's opened topic.
func (t *Transport) OnNotificationOpened(fn func(notify.Message)) (func(), error) {
	t.mu.Lock()
	t.opened = fn
	t.mu.Unlock()

	topic := t.openedTopic()
	if err := t.subscribe(topic, t.dispatchOpened); err != nil {
		return nil, err
	}
	return func() {
		t.mu.Lock()
		t.opened = nil
		t.mu.Unlock()
		t.unsubscribe(topic)
	}, nil
}

// InitialNotification always reports none: an MQTT session has no
// launched-from-killed-state concept.
func (t *Transport) InitialNotification(context.Context) (*notify.Message, error) {
	return nil, nil
}

// SubscribeTopic joins a broadcast channel. Broadcast deliveries flow
// through the foreground handler.
func (t *Transport) SubscribeTopic(_ context.Context, name string) error {
	topic := broadcastTopic(name)
	if err := t.subscribe(topic, t.dispatchForeground); err != nil {
		return err
	}
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()
	return nil
}

// UnsubscribeTopic leaves a broadcast channel.
func (t *Transport) UnsubscribeTopic(_ context.Context, name string) error {
	topic := broadcastTopic(name)
	if err := t.unsubscribe(topic); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.topics, topic)
	t.mu.Unlock()
	return nil
}

// DeleteToken tears down all device subscriptions and disconnects, which
// invalidates the inbox address until the next connect.
func (t *Transport) DeleteToken(context.Context) error {
	t.mu.Lock()
	topics := []string{t.messagesTopic(), t.backgroundTopic(), t.openedTopic()}
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	t.topics = map[string]struct{}{}
	t.sawConnect = false
	t.mu.Unlock()

	token := t.client.Unsubscribe(topics...)
	token.Wait()
	if err := token.Error(); err != nil {
		t.log.WithError(err).Warn("unsubscribe during token delete failed")
	}
	t.client.Disconnect(disconnectQuiesceMS)
	return nil
}

func (t *Transport) subscribe(topic string, dispatch func(notify.Message)) error {
	token := t.client.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, raw mqtt.Message) {
		msg, err := decodePayload(raw.Payload())
		if err != nil {
			t.log.WithError(err).WithField("topic", raw.Topic()).Warn("dropping undecodable message")
			return
		}
		dispatch(msg)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) unsubscribe(topic string) error {
	token := t.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) dispatchForeground(msg notify.Message) {
	t.mu.Lock()
	fn := t.foreground
	t.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (t *Transport) dispatchBackground(msg notify.Message) {
	t.mu.Lock()
	fn := t.background
	t.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (t *Transport) dispatchOpened(msg notify.Message) {
	t.mu.Lock()
	fn := t.opened
	t.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func decodePayload(raw []byte) (notify.Message, error) {
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return notify.Message{}, fmt.Errorf("decode payload: %w", err)
	}
	return notify.Message{ID: p.ID, Title: p.Title, Body: p.Body, Data: p.Data}, nil
}

// EncodePayload serializes a message into the wire form this transport
// expects. Publishing tools use it to address a device inbox.
func EncodePayload(msg notify.Message) ([]byte, error) {
	return json.Marshal(wirePayload{ID: msg.ID, Title: msg.Title, Body: msg.Body, Data: msg.Data})
}

// waitToken waits for a paho token respecting context cancellation.
func waitToken(ctx context.Context, token mqtt.Token) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	}
}
