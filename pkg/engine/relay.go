package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/model"
)

// Relay mirrors committed event frames onto a Kafka topic and replays frames
// published by the other gateway instances into the local registry. Every
// instance consumes with its own group id so the topic behaves as a
// broadcast. Frames originated locally are skipped on the way back in.
type Relay struct {
	log    *zap.SugaredLogger
	writer *kafka.Writer
	reader *kafka.Reader
	engine *Engine
}

func NewRelay(log *zap.SugaredLogger, brokers []string, topic, groupID string) *Relay {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	return &Relay{log: log, writer: writer, reader: reader}
}

// Publish mirrors one frame. Keyed by channel so a conversation's frames stay
// ordered within a partition.
func (r *Relay) Publish(frame *model.Event) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(frame.Channel),
		Value: payload,
		Time:  time.Now(),
	})
}

// Run consumes until the context is cancelled, delivering remote frames to
// locally subscribed sessions.
func (r *Relay) Run(ctx context.Context) {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warnw("relay read failed, retrying", "err", err)
			time.Sleep(time.Second)
			continue
		}

		var frame model.Event
		if err := json.Unmarshal(m.Value, &frame); err != nil {
			r.log.Warnw("relay frame unmarshal failed", "err", err)
			continue
		}
		if r.engine == nil || frame.Origin == r.engine.origin {
			continue
		}
		r.engine.deliverLocal(&frame)
	}
}

func (r *Relay) Close() error {
	if err := r.writer.Close(); err != nil {
		return err
	}
	return r.reader.Close()
}
