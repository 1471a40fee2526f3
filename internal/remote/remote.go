// Package remote мост MQTT: команды из <prefix>/cmd/..., состояние в
// <prefix>/status. Тела команд совпадают с телами HTTP API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shiwa/balancer/internal/api"
	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/logger"
)

// Config параметры подключения.
type Config struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Prefix         string
	StatusInterval time.Duration
}

// Publisher часть mqtt.Client, нужная для публикации.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge принимает команды и публикует состояние.
type Bridge struct {
	ctl *control.Context
	cfg Config
	pub Publisher
}

// New создаёт мост. Публикация начинается после Run.
func New(ctl *control.Context, cfg Config) *Bridge {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "balancer"
	}
	return &Bridge{ctl: ctl, cfg: cfg}
}

func (b *Bridge) topic(parts ...string) string {
	return b.cfg.Prefix + "/" + strings.Join(parts, "/")
}

// Run подключается к брокеру и работает до отмены ctx. Брокер может быть
// недоступен при старте: клиент переподключается сам.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(b.topic("online"), "false", 1, true)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt: connected to %s", b.cfg.Broker)
		c.Publish(b.topic("online"), 1, true, "true")
		if t := c.Subscribe(b.topic("cmd", "#"), 1, b.onMessage); t.Wait() && t.Error() != nil {
			logger.Error("mqtt: subscribe: %v", t.Error())
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Error("mqtt: connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	b.pub = client
	// с ConnectRetry токен завершается только после успешного подключения
	client.Connect()
	defer func() {
		client.Publish(b.topic("online"), 1, true, "false").WaitTimeout(time.Second)
		client.Disconnect(250)
	}()

	ticker := time.NewTicker(b.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if client.IsConnectionOpen() {
				b.publishStatus()
			}
		}
	}
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := b.Handle(msg.Topic(), msg.Payload()); err != nil {
		logger.Error("mqtt: %s: %v", msg.Topic(), err)
		b.publish(b.topic("error"), map[string]string{"topic": msg.Topic(), "error": err.Error()})
		return
	}
	b.publishStatus()
}

func (b *Bridge) publishStatus() {
	b.publish(b.topic("status"), api.NewStatus(b.ctl))
}

func (b *Bridge) publish(topic string, v interface{}) {
	if b.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("mqtt: marshal %s: %v", topic, err)
		return
	}
	b.pub.Publish(topic, 0, false, data)
}

type applier interface {
	Apply(*control.Context) error
}

// Handle выполняет команду из топика <prefix>/cmd/<name>[/<loop>].
func (b *Bridge) Handle(topic string, payload []byte) error {
	name, ok := strings.CutPrefix(topic, b.topic("cmd")+"/")
	if !ok {
		return fmt.Errorf("not a command topic")
	}
	var cmd applier
	switch name {
	case "balance":
		cmd = &api.BalanceRequest{}
	case "move":
		cmd = &api.MoveRequest{}
	case "velocity":
		cmd = &api.VelocityRequest{}
	case "heading":
		cmd = &api.HeadingRequest{}
	case "observation":
		var obs api.Observation
		if err := json.Unmarshal(payload, &obs); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		v := b.ctl.ObserveHeading(obs.Angle)
		b.publish(b.topic("observation"), api.ObservationResult{Verdict: v.String()})
		return nil
	default:
		loop, ok := strings.CutPrefix(name, "gains/")
		if !ok {
			return fmt.Errorf("unknown command %q", name)
		}
		var g api.Gains
		if err := json.Unmarshal(payload, &g); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return api.SetGains(b.ctl, loop, g)
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return cmd.Apply(b.ctl)
}
