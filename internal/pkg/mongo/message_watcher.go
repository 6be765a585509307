package mongo

import (
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const WatcherSource = "mongo:messages"

const (
	watchMinBackoff = time.Second
	watchMaxBackoff = 30 * time.Second
)

// ChangePublisher 变更流的下游
type ChangePublisher interface {
	Publish(ctx context.Context, c changefeed.Change)
	SetConnected(source string, connected bool)
}

// MessageWatcher 监听 messages 集合的插入事件并推送到变更中心
type MessageWatcher struct {
	col         *mongo.Collection
	pub         ChangePublisher
	resumeToken bson.Raw
}

func NewMessageWatcher(db *mongo.Database, pub ChangePublisher) *MessageWatcher {
	return &MessageWatcher{
		col: db.Collection(MessageCollection),
		pub: pub,
	}
}

// Run 阻塞运行直到 ctx 取消，断线后指数退避重连
func (w *MessageWatcher) Run(ctx context.Context) error {
	backoff := watchMinBackoff
	for {
		opened, err := w.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			backoff = watchMinBackoff
		}

		w.pub.SetConnected(WatcherSource, false)
		log.Warn("message change stream interrupted", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > watchMaxBackoff {
			backoff = watchMaxBackoff
		}
	}
}

func (w *MessageWatcher) watch(ctx context.Context) (bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	opts := options.ChangeStream()
	if w.resumeToken != nil {
		opts.SetResumeAfter(w.resumeToken)
	}

	stream, err := w.col.Watch(ctx, pipeline, opts)
	if err != nil && w.resumeToken != nil {
		// 续传点可能已过期，放弃续传
		w.resumeToken = nil
		stream, err = w.col.Watch(ctx, pipeline)
	}
	if err != nil {
		return false, err
	}
	defer func() {
		_ = stream.Close(context.Background())
	}()

	w.pub.SetConnected(WatcherSource, true)

	for stream.Next(ctx) {
		var evt struct {
			FullDocument Message `bson:"fullDocument"`
		}
		if err := stream.Decode(&evt); err != nil {
			log.Error("failed to decode message change", "err", err)
			continue
		}
		w.resumeToken = stream.ResumeToken()

		traceCtx := logger.WithTrace(ctx, "msg")
		w.pub.Publish(traceCtx, evt.FullDocument.ToChange(changefeed.OpInsert))
	}
	return true, stream.Err()
}
