// Package mqtt publishes rig state to an MQTT broker and accepts
// protocol commands on a command topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/monitor"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMS      = 500
	keepAlive      = 60 * time.Second
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// Options configures the publisher.
type Options struct {
	Broker      string // host:port or a full tcp:// / ssl:// URL
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

// Topics derives topic names from the prefix.
type Topics struct {
	Prefix string
}

// Status carries online/offline availability, retained.
func (t Topics) Status() string { return t.Prefix + "/status" }

// State carries the operating state, retained, published on change.
func (t Topics) State() string { return t.Prefix + "/state" }

// Meters carries meter readings on every poll.
func (t Topics) Meters() string { return t.Prefix + "/meters" }

// Command receives protocol command lines.
func (t Topics) Command() string { return t.Prefix + "/command" }

// Response carries the JSON reply to each command.
func (t Topics) Response() string { return t.Prefix + "/response" }

// client is the part of the paho client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// CommandHandler executes one protocol line and returns the JSON reply.
type CommandHandler func(ctx context.Context, line string) string

// Publisher mirrors monitor snapshots to MQTT.
type Publisher struct {
	client   client
	topics   Topics
	clientID string
	logger   *logging.Logger

	mu        sync.Mutex
	last      *monitor.Snapshot
	published int64
	failures  int64
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}

// Connect dials the broker. The broker publishes an offline status if the
// daemon vanishes without closing.
func Connect(opts Options, logger *logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	topics := Topics{Prefix: opts.TopicPrefix}

	po := pahomqtt.NewClientOptions()
	po.AddBroker(brokerURL(opts.Broker))
	po.SetClientID(opts.ClientID)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectTimeout(connectTimeout)
	po.SetKeepAlive(keepAlive)
	po.SetWill(topics.Status(), statusPayload(opts.ClientID, "offline"), 1, true)

	p := &Publisher{topics: topics, clientID: opts.ClientID, logger: logger}
	po.SetOnConnectHandler(func(c pahomqtt.Client) {
		logger.Infof("mqtt", "Connected to %s", opts.Broker)
		c.Publish(topics.Status(), 1, true, statusPayload(opts.ClientID, "online"))
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warnf("mqtt", "Connection lost: %v", err)
	})

	c := pahomqtt.NewClient(po)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	p.client = c
	return p, nil
}

func newPublisher(c client, prefix, clientID string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{client: c, topics: Topics{Prefix: prefix}, clientID: clientID, logger: logger}
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Publish sends the state when it changed since the last publish and the
// meters every time.
func (p *Publisher) Publish(snap monitor.Snapshot) error {
	if !p.client.IsConnected() {
		return nil
	}

	p.mu.Lock()
	changed := p.last == nil || snap.Changed(*p.last)
	p.mu.Unlock()

	var errs []error
	if changed {
		state := snap
		state.Meters = nil
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := p.publish(p.topics.State(), true, data); err != nil {
			errs = append(errs, err)
		} else {
			p.mu.Lock()
			p.last = &snap
			p.published++
			p.mu.Unlock()
		}
	}

	if len(snap.Meters) > 0 {
		data, err := json.Marshal(map[string]interface{}{
			"timestamp": snap.Timestamp,
			"meters":    snap.Meters,
		})
		if err != nil {
			return err
		}
		if err := p.publish(p.topics.Meters(), false, data); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		return err
	}
	return nil
}

// Run publishes every snapshot from ch until it closes or ctx ends.
func (p *Publisher) Run(ctx context.Context, ch <-chan monitor.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(snap); err != nil {
				p.logger.Warnf("mqtt", "Publish failed: %v", err)
			}
		}
	}
}

// HandleCommands subscribes to the command topic; each message is one
// protocol line and its reply goes to the response topic.
func (p *Publisher) HandleCommands(ctx context.Context, handler CommandHandler) error {
	token := p.client.Subscribe(p.topics.Command(), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		line := strings.TrimSpace(string(msg.Payload()))
		if line == "" {
			return
		}
		p.logger.Debugf("mqtt", "Command: %s", line)
		reply := handler(ctx, line)
		if err := p.publish(p.topics.Response(), false, []byte(reply)); err != nil {
			p.logger.Warnf("mqtt", "Failed to publish response: %v", err)
		}
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe to %s timed out", p.topics.Command())
	}
	return token.Error()
}

// Stats returns publish counters.
func (p *Publisher) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"connected":       p.client.IsConnected(),
		"states":          p.published,
		"publish_failure": p.failures,
	}
}

// Close publishes a graceful offline status and disconnects.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		if err := p.publish(p.topics.Status(), true, []byte(statusPayload(p.clientID, "offline"))); err != nil {
			p.logger.Warnf("mqtt", "Failed to publish offline status: %v", err)
		}
	}
	p.client.Disconnect(quiesceMS)
	return nil
}
