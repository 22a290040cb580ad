package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dupahar/relay/pkg/logger"
	"github.com/dupahar/relay/pkg/model"
)

const onlineSetKey = "relay:online"

// presenceMirror publishes the online-user set to Redis so external
// services can read presence without talking to this process. The
// in-memory registry stays the source of truth; mirror failures are
// logged and otherwise ignored.
type presenceMirror struct {
	rdb *redis.Client
}

// newPresenceMirror returns nil when no address is configured; all
// methods are nil-safe no-ops in that case.
func newPresenceMirror(addr string) *presenceMirror {
	if addr == "" {
		return nil
	}
	return &presenceMirror{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (m *presenceMirror) setOnline(userID string, online bool) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if online {
		err = m.rdb.SAdd(ctx, onlineSetKey, userID).Err()
	} else {
		err = m.rdb.SRem(ctx, onlineSetKey, userID).Err()
	}
	if err != nil {
		logger.Log.Warn("presence_mirror_failed", zap.String("user", userID), zap.Error(err))
	}
}

func (m *presenceMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.rdb.Close()
}

// eventMirror publishes every persisted message and update to a Kafka
// topic for downstream consumers (search indexers, analytics). Publishing
// is fire and forget and happens only after the store write succeeded, so
// the topic never sees an event the store does not hold.
type eventMirror struct {
	writer *kafka.Writer
}

func newEventMirror(brokers []string, topic string) *eventMirror {
	if len(brokers) == 0 {
		return nil
	}
	return &eventMirror{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (m *eventMirror) publish(event string, msg model.Message) {
	if m == nil {
		return
	}
	frame, err := model.NewEnvelope(event, msg)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.writer.WriteMessages(ctx, kafka.Message{Value: frame, Time: time.Now()}); err != nil {
			logger.Log.Warn("event_mirror_failed", zap.String("event", event), zap.Error(err))
		}
	}()
}

func (m *eventMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.writer.Close()
}
