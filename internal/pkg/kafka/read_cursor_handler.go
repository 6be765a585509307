package kafka

import (
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/logger"
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
)

const ReadCursorSource = "kafka:read_cursors"

// ChangePublisher 变更的下游
type ChangePublisher interface {
	Publish(ctx context.Context, c changefeed.Change)
	SetConnected(source string, connected bool)
}

// ReadCursorHandler 消费 read_cursors 表的 binlog，转成变更事件
type ReadCursorHandler struct {
	pub ChangePublisher
}

func NewReadCursorHandler(pub ChangePublisher) *ReadCursorHandler {
	return &ReadCursorHandler{pub: pub}
}

func (s *ReadCursorHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("read cursor consumer setup")
	s.pub.SetConnected(ReadCursorSource, true)
	return nil
}

func (s *ReadCursorHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("read cursor consumer cleanup")
	return nil
}

func (s *ReadCursorHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-read-cursor consume claim", "partition", claim.Partition())
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("topic-read-cursor process batch error", "err", err)
		return err
	}
	return nil
}

func (s *ReadCursorHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	canalMsg, err := ToCanalMessage(msg, changefeed.TableReadCursors)
	if err != nil {
		// 无法解析或无关的消息直接跳过，避免阻塞分区
		if !errors.Is(err, ErrTableMismatch) && !errors.Is(err, ErrEmptyData) {
			log.Warn("skip malformed read cursor message", "offset", msg.Offset, "err", err)
		}
		return nil
	}

	var op changefeed.Op
	switch canalMsg.Type {
	case INSERT:
		op = changefeed.OpInsert
	case UPDATE:
		op = changefeed.OpUpdate
	default:
		return nil
	}

	ts := time.UnixMilli(canalMsg.TS)
	for _, data := range canalMsg.Data {
		row := changefeed.Row{
			"user_id":              StrToUint64(data["user_id"]),
			"room_id":              StrToUint64(data["room_id"]),
			"last_read_message_id": data["last_read_message_id"],
			"last_read_at":         data["last_read_at"],
		}
		traceCtx := logger.WithTrace(ctx, "cdc")
		s.pub.Publish(traceCtx, changefeed.Change{
			Table: changefeed.TableReadCursors,
			Op:    op,
			Row:   row,
			TS:    ts,
		})
	}
	return nil
}
