// Package mqtt maintains a push-based states repository over an MQTT
// broker. Retained and live messages below the base topic become states
// keyed by their topic; staged writes are published back.
package mqtt

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Repository is the MQTT states repository. Message callbacks arrive on
// paho goroutines, so fresh readings are parked in a pending map and folded
// into the cache on the next ReadStates call inside the monitor cycle.
type Repository struct {
	*domain.StatesCache

	cfg    config.MQTTConfig
	client pahomqtt.Client
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*domain.State
}

func NewRepository(cfg config.MQTTConfig, logger *zap.Logger) *Repository {
	r := &Repository{
		StatesCache: domain.NewStatesCache(domain.ChannelMQTT),
		cfg:         cfg,
		logger:      logger.With(zap.String("channel", domain.ChannelMQTT)),
		pending:     map[string]*domain.State{},
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("sunledger_%d", rand.IntN(1000)))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.WillEnabled = true
	opts.WillTopic = statusTopic(cfg.BaseTopic)
	opts.WillPayload = []byte(payloadOffline)
	opts.WillRetained = true
	opts.OnConnect = r.onConnect
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		r.logger.Warn("mqtt connection lost", zap.Error(err))
	}
	r.client = pahomqtt.NewClient(opts)
	return r
}

// Connect establishes the broker connection and announces the bridge as
// online.
func (r *Repository) Connect() error {
	token := r.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	r.client.Publish(statusTopic(r.cfg.BaseTopic), 0, true, payloadOnline)
	return nil
}

func (r *Repository) Disconnect() {
	if r.client.IsConnected() {
		r.client.Publish(statusTopic(r.cfg.BaseTopic), 0, true, payloadOffline)
		r.client.Disconnect(250)
	}
}

func (r *Repository) onConnect(client pahomqtt.Client) {
	r.logger.Info("connected to mqtt broker")
	topic := r.cfg.BaseTopic + "/#"
	token := client.Subscribe(topic, 0, r.onMessage)
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			r.logger.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
}

func (r *Repository) onMessage(_ pahomqtt.Client, message pahomqtt.Message) {
	state := domain.NewState(message.Topic(), string(message.Payload()), nil)
	r.mu.Lock()
	r.pending[state.ID()] = state
	r.mu.Unlock()
}

// ReadStates folds the readings received since the last cycle into the
// cache.
func (r *Repository) ReadStates(ctx context.Context) error {
	r.mu.Lock()
	pending := r.pending
	r.pending = map[string]*domain.State{}
	r.mu.Unlock()
	for _, state := range pending {
		r.UpdateReadState(state)
	}
	return nil
}

func (r *Repository) WriteStates(ctx context.Context) error {
	for _, state := range r.StagedWrites() {
		token := r.client.Publish(state.ID(), 0, false, state.Value())
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("mqtt publish timeout for %q", state.ID())
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %q: %w", state.ID(), err)
		}
	}
	return nil
}

func statusTopic(baseTopic string) string {
	return baseTopic + "/status"
}
