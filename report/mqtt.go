package report

import (
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker connection settings. Environment variables
// MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME and MQTT_PASSWORD take
// precedence over the file values.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	PublishPrefix string `yaml:"publish_prefix"`
	QoS           byte   `yaml:"qos"`
	Retain        bool   `yaml:"retain"`
}

// ErrMQTTDisabled is returned by Connect when no broker is configured.
var ErrMQTTDisabled = errors.New("MQTT disabled: no broker configured")

// WithEnv returns cfg with environment overrides applied.
func (cfg MQTTConfig) WithEnv() MQTTConfig {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		cfg.PublishPrefix = v
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "submesh"
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = "submesh"
	}
	return cfg
}

// ClientOptions builds paho options for cfg.
func ClientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("[MQTT] connection lost (%v), auto-reconnect will retry", err)
	})
	return opts
}

// Connect opens a broker connection and waits up to timeout for it.
// It returns ErrMQTTDisabled when cfg has no broker after env overrides.
func Connect(cfg MQTTConfig, timeout time.Duration) (mqtt.Client, error) {
	cfg = cfg.WithEnv()
	if cfg.Broker == "" {
		return nil, ErrMQTTDisabled
	}
	client := mqtt.NewClient(ClientOptions(cfg))
	logger.Infof("[MQTT] connecting to %s as %s", cfg.Broker, cfg.ClientID)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to %s: timeout after %v", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	return client, nil
}
