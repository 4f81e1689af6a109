// Package mqtt delivers dispatch and restock events to external systems
// over an MQTT broker. The inventory system subscribes to the restock
// topic to put returned plants back on sale.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenharbor/nursery-dispatch/core/events"
	"github.com/greenharbor/nursery-dispatch/infra/logger"
)

const (
	// TopicDispatchCreated carries one message per committed dispatch.
	TopicDispatchCreated = "nursery/dispatch/created"
	// TopicInventoryRestock carries one message per restocked write-off.
	TopicInventoryRestock = "nursery/inventory/restock"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	QoS        byte        `json:"qos"`
	MaxRetries int         `json:"max_retries"`
	BackoffMS  int         `json:"backoff_ms"`
	TLSConfig  *tls.Config `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoNotifier publishes domain events over MQTT using Eclipse Paho.
type PahoNotifier struct {
	cli        pahoClient
	qos        byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewPahoNotifier connects to the MQTT broker.
func NewPahoNotifier(cfg Config) (*PahoNotifier, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_notifier")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := time.Duration(cfg.BackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}
	return &PahoNotifier{cli: c, qos: qos, maxRetries: maxRetries, backoff: backoff, log: log}, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// DispatchCreated publishes the dispatch summary for downstream planning.
func (p *PahoNotifier) DispatchCreated(ctx context.Context, ev events.DispatchCreated) error {
	msg := struct {
		DispatchID string `json:"dispatch_id"`
		Driver     string `json:"driver"`
		Vehicle    string `json:"vehicle"`
		Plants     int    `json:"plants"`
		Orders     int    `json:"orders"`
		Timestamp  int64  `json:"timestamp"`
	}{
		DispatchID: ev.Dispatch.ID,
		Driver:     ev.Dispatch.Driver,
		Vehicle:    ev.Dispatch.Vehicle,
		Plants:     ev.Dispatch.TotalPlants(),
		Orders:     len(ev.Dispatch.Allocations),
		Timestamp:  ev.At.UnixMilli(),
	}
	return p.publish(ctx, TopicDispatchCreated, msg)
}

// SlotRestocked publishes a restock event for the inventory system.
func (p *PahoNotifier) SlotRestocked(ctx context.Context, ev events.SlotRestocked) error {
	msg := struct {
		SlotID    string `json:"slot_id"`
		OrderID   string `json:"order_id"`
		Quantity  int    `json:"quantity"`
		Timestamp int64  `json:"timestamp"`
	}{
		SlotID:    ev.SlotID,
		OrderID:   ev.OrderID,
		Quantity:  ev.Quantity,
		Timestamp: ev.At.UnixMilli(),
	}
	return p.publish(ctx, TopicInventoryRestock, msg)
}

func (p *PahoNotifier) publish(ctx context.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		token := p.cli.Publish(topic, p.qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Debugf("published to %s", topic)
			return nil
		}
		p.log.Warnf("publish to %s failed (attempt %d): %v", topic, attempt+1, publishErr)
		time.Sleep(p.backoff)
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close disconnects from the broker.
func (p *PahoNotifier) Close() {
	p.cli.Disconnect(250)
}
