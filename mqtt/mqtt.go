// Package mqtt mirrors bridge events onto an MQTT broker and accepts
// injected board input back from it, for cockpit setups where other
// tooling hangs off the same broker.
package mqtt

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/openflite/openflite"
	"github.com/openflite/openflite/protocol"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4
const disconnectTimeoutSeconds = 2

const defaultClientID = "openflite"
const defaultTopicPrefix = "openflite"

// Service relays every bridge event to <prefix>/events, variable changes
// additionally to <prefix>/variables/<name>, and listens on
// <prefix>/inject/<device> for raw board lines to feed into the loop.
// Exported fields come from the config file.
type Service struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string

	core   *openflite.Core
	conn   *autopaho.ConnectionManager
	logger *log.Logger
}

// Run connects to the broker and pumps events until the context is
// cancelled. The connection manager keeps redialing on its own, so a
// broker that is down at startup only delays delivery.
func (s *Service) Run(ctx context.Context, core *openflite.Core) error {
	s.core = core
	if s.ClientID == "" {
		s.ClientID = defaultClientID
	}
	if s.TopicPrefix == "" {
		s.TopicPrefix = defaultTopicPrefix
	}
	s.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "mqtt",
		Level:  log.GetLevel(),
	})

	addr, err := url.Parse(s.BrokerURL)
	if err != nil {
		return errors.Wrapf(err, "failed to parse broker url %s", s.BrokerURL)
	}

	config := autopaho.ClientConfig{
		BrokerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        s.onConnUp,
		OnConnectError:        s.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           s.ClientID,
			OnClientError:      s.onConnError,
			OnServerDisconnect: s.onSrvDisconnect,
			OnPublishReceived:  s.onPublishRecv(),
		},
	}

	// NewConnection takes the long-lived context: cancelling it shuts the
	// manager down, so the dial timeout only bounds AwaitConnection.
	s.conn, err = autopaho.NewConnection(ctx, config)
	if err != nil {
		return errors.Wrap(err, "failed to start mqtt connection manager")
	}

	awaitCtx, cancel := context.WithTimeout(ctx, connectionTimeoutSeconds*time.Second)
	err = s.conn.AwaitConnection(awaitCtx)
	cancel()
	if err != nil {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", s.BrokerURL)
	}

	events := core.Subscribe()
	defer core.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeoutSeconds*time.Second)
			if err := s.conn.Disconnect(disconnectCtx); err != nil {
				s.logger.Debug("mqtt disconnect failed", "err", err)
			}
			cancel()
			return ctx.Err()
		case event := <-events:
			s.publishEvent(event)
		}
	}
}

func (s *Service) publishEvent(event openflite.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := s.publish(s.TopicPrefix+"/events", payload); err != nil {
		s.logger.Warn("event publish failed", "kind", event.Kind, "err", err)
		return
	}

	if event.Kind == openflite.EventVariableChanged {
		value := strconv.FormatFloat(event.Value, 'f', -1, 64)
		if err := s.publish(s.TopicPrefix+"/variables/"+event.Name, []byte(value)); err != nil {
			s.logger.Warn("variable publish failed", "name", event.Name, "err", err)
		}
	}
}

func (s *Service) publish(topic string, payload []byte) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = s.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return
}

func (s *Service) onConnUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	s.logger.Info("connected to mqtt broker", "broker", s.BrokerURL)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{QoS: 1, Topic: s.injectFilter()},
		},
	})
	if err != nil {
		s.logger.Error("failed to subscribe inject topic", "topic", s.injectFilter(), "err", err)
	}
}

func (s *Service) onConnError(err error) {
	s.logger.Error("mqtt connection error", "err", err)
}

func (s *Service) onSrvDisconnect(_ *paho.Disconnect) {
	s.logger.Info("disconnected from mqtt broker")
}

func (s *Service) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			s.handleInject(pr.Packet.Topic, pr.Packet.Payload)
			return true, nil
		},
	}
}

func (s *Service) injectFilter() string {
	return s.TopicPrefix + "/inject/+"
}

// handleInject feeds a raw board line published on <prefix>/inject/<device>
// into the next tick, as if the named device had sent it.
func (s *Service) handleInject(topic string, payload []byte) {
	prefix := s.TopicPrefix + "/inject/"
	if !strings.HasPrefix(topic, prefix) {
		return
	}

	device := strings.TrimPrefix(topic, prefix)
	if device == "" {
		return
	}

	resp := protocol.ParseResponse(string(payload))
	if resp == nil {
		s.logger.Warn("unparsable inject payload", "topic", topic, "payload", string(payload))
		return
	}

	s.core.InjectResponse(device, resp)
	s.logger.Debug("injected input", "device", device)
}
