package kafka

import (
	"Murmur/internal/api/config"
	"context"
	"fmt"
	log "log/slog"
	"os"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	readCursorConsumer sarama.ConsumerGroup
	readCursorHandler  *ReadCursorHandler
	pub                ChangePublisher
	topic              string
}

// NewConsumerManager 构造函数
// 每个进程持有自己的在线会话，需要收到全部分区的变更，所以消费组 ID 按实例区分
func NewConsumerManager(cfg *config.Config, pub ChangePublisher) (*ConsumerManager, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	groupID := instanceGroupID(cfg.KafkaReadCursorConsumer.GroupID)
	readCursorConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, groupID, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &ConsumerManager{
		readCursorConsumer: readCursorConsumer,
		readCursorHandler:  NewReadCursorHandler(pub),
		pub:                pub,
		topic:              cfg.KafkaReadCursorConsumer.Topic,
	}, nil
}

func instanceGroupID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "murmur"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, host, uuid.NewString()[:8])
}

// Start 启动所有消费者，阻塞到 ctx 取消
func (m *ConsumerManager) Start(ctx context.Context) error {
	go func() {
		for err := range m.readCursorConsumer.Errors() {
			log.Error("Error from read cursor consumer", "err", err)
			m.pub.SetConnected(ReadCursorSource, false)
		}
	}()

	go func() {
		log.Info("Read cursor consumer started", "topic", m.topic)
		for {
			if err := m.readCursorConsumer.Consume(ctx, []string{m.topic}, m.readCursorHandler); err != nil {
				log.Error("Error from consumer", "err", err)
				m.pub.SetConnected(ReadCursorSource, false)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	if err := m.readCursorConsumer.Close(); err != nil {
		log.Error("Failed to close read cursor consumer", "err", err)
	}

	return nil
}
