package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"

	"climate-api/internal/config"
)

const (
	queryQoS       = byte(1)
	queryTimeout   = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// QueryRequest is the JSON payload accepted on the query topic.
type QueryRequest struct {
	ID      string `json:"id" validate:"required,max=128"`
	Query   string `json:"query" validate:"required,oneof=precipitation stations tobs temp"`
	Start   string `json:"start" validate:"required_if=Query temp"`
	End     string `json:"end"`
	ReplyTo string `json:"reply_to" validate:"omitempty,excludesall=+#"`
}

// QueryReply carries either the result of a query or an error message.
type QueryReply struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QueryHandler answers a validated request. The returned value is encoded as
// the reply's result.
type QueryHandler func(ctx context.Context, req QueryRequest) (any, error)

// Responder answers climate queries received over MQTT.
type Responder struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	validate  *validator.Validate
	mu        sync.RWMutex
	connected bool

	baseCtx  context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once

	publish func(topic string, payload []byte) error
	handler QueryHandler
}

// SetQueryHandler sets the handler invoked for each valid request.
func (s *Responder) SetQueryHandler(handler QueryHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func NewResponder(cfg config.Config, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Responder{
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		baseCtx:  baseCtx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// Clean sessions drop subscriptions, so resubscribe after every reconnect.
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.MQTTTopic, "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	s.publish = s.publishToBroker
	return s
}

// Connect establishes the broker connection. The query topic is subscribed
// from the on-connect callback.
func (s *Responder) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("responder stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("responder stopped")
		default:
		}
	}
}

func (s *Responder) subscribe() error {
	topic := s.cfg.MQTTTopic

	token := s.client.Subscribe(topic, queryQoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", queryQoS)
	return nil
}

func (s *Responder) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt query", "topic", topic, "size", len(payload))

	var req QueryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("failed to parse query message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	// Without an id the caller cannot correlate anything we send.
	if req.ID == "" {
		s.logger.Warn("query message without id", "topic", topic)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.logger.Warn("invalid query message", "topic", topic, "id", req.ID, "error", err)
		s.reply(s.defaultReplyTopic(), QueryReply{ID: req.ID, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	replyTo := s.replyTopic(req)

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		s.logger.Warn("no query handler registered", "id", req.ID)
		s.reply(replyTo, QueryReply{ID: req.ID, Error: "no handler registered"})
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, queryTimeout)
	defer cancel()

	result, err := handler(ctx, req)
	if err != nil {
		s.logger.Error("query handler failed", "id", req.ID, "query", req.Query, "error", err)
		s.reply(replyTo, QueryReply{ID: req.ID, Error: err.Error()})
		return
	}
	s.reply(replyTo, QueryReply{ID: req.ID, Result: result})
	s.logger.Debug("answered mqtt query", "id", req.ID, "query", req.Query, "reply_to", replyTo)
}

func (s *Responder) replyTopic(req QueryRequest) string {
	if req.ReplyTo != "" {
		return req.ReplyTo
	}
	return s.defaultReplyTopic()
}

func (s *Responder) defaultReplyTopic() string {
	return s.cfg.MQTTTopic + "/reply"
}

func (s *Responder) reply(topic string, reply QueryReply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("failed to encode query reply", "id", reply.ID, "error", err)
		return
	}
	if err := s.publish(topic, payload); err != nil {
		s.logger.Error("failed to publish query reply", "id", reply.ID, "topic", topic, "error", err)
	}
}

func (s *Responder) publishToBroker(topic string, payload []byte) error {
	token := s.client.Publish(topic, queryQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

// IsConnected returns whether the client is connected.
func (s *Responder) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the responder and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Responder) Disconnect() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
	})

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt responder disconnected")
}

func (s *Responder) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
