package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes telemetry from a Kafka topic as part of a consumer
// group. Offsets are committed after the fix is handed off, so delivery is
// at most once per handled message.
type KafkaSource struct {
	cfg     KafkaConfig
	reader  messageReader
	handler *Handler
	log     *slog.Logger
}

func NewKafkaSource(cfg KafkaConfig, handler *Handler, logger *slog.Logger) (*KafkaSource, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("telemetry topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &KafkaSource{
		cfg:     cfg,
		reader:  reader,
		handler: handler,
		log:     logger.With(slog.String("component", "kafka_source")),
	}, nil
}

func (s *KafkaSource) Close() error {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

// Run consumes until ctx is cancelled or the reader is closed.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.log.Info("kafka_source_started",
		slog.String("topic", s.cfg.Topic),
		slog.String("group", s.cfg.GroupID),
		slog.String("brokers", strings.Join(s.cfg.Brokers, ",")),
	)
	defer s.log.Info("kafka_source_stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return nil
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			s.log.Error("kafka_fetch_failed", slog.Any("error", err))
			return fmt.Errorf("kafka fetch: %w", err)
		}

		s.handler.HandlePayload(msg.Value)

		commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PollTimeout)
		if err := s.reader.CommitMessages(commitCtx, msg); err != nil {
			s.log.Warn("kafka_commit_failed", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
		commitCancel()
	}
}
