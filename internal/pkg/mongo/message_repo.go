package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MessageCollection = "messages"

type MessageRepo interface {
	GetPage(ctx context.Context, roomID uint64, offset, limit int) ([]*Message, error)
	GetLatest(ctx context.Context, roomID uint64) (*Message, error)
	GetLatestByRooms(ctx context.Context, roomIDs []uint64) (map[uint64]*Message, error)
	CountUnread(ctx context.Context, roomID, userID uint64, after time.Time) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection(MessageCollection),
	}
}

// EnsureMessageIndexes 建立按会话、时间倒序的复合索引
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(MessageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sent_at", Value: -1}},
	})
	return err
}

// GetPage 按"最新 N 条，再往前 N 条"分页，页内按发送时间升序返回
func (s *messageRepoImpl) GetPage(ctx context.Context, roomID uint64, offset, limit int) ([]*Message, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, bson.M{"room_id": roomID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	messages := make([]*Message, 0, limit)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetLatest 会话中最新的一条消息，空会话返回 nil
func (s *messageRepoImpl) GetLatest(ctx context.Context, roomID uint64) (*Message, error) {
	var msg Message
	opts := options.FindOne().SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}})
	err := s.col.FindOne(ctx, bson.M{"room_id": roomID}, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetLatestByRooms 批量获取各会话的最新消息
func (s *messageRepoImpl) GetLatestByRooms(ctx context.Context, roomIDs []uint64) (map[uint64]*Message, error) {
	result := make(map[uint64]*Message, len(roomIDs))
	if len(roomIDs) == 0 {
		return result, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"room_id": bson.M{"$in": roomIDs}}}},
		{{Key: "$sort", Value: bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$room_id"},
			{Key: "doc", Value: bson.M{"$first": "$$ROOT"}},
		}}},
	}

	cursor, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var rows []struct {
		RoomID uint64  `bson:"_id"`
		Doc    Message `bson:"doc"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].RoomID] = &rows[i].Doc
	}
	return result, nil
}

// CountUnread 统计 after 之后他人发送的消息数，after 为零值时统计全部
func (s *messageRepoImpl) CountUnread(ctx context.Context, roomID, userID uint64, after time.Time) (int64, error) {
	filter := bson.M{
		"room_id":   roomID,
		"sender_id": bson.M{"$ne": userID},
	}
	if !after.IsZero() {
		filter["sent_at"] = bson.M{"$gt": after}
	}
	return s.col.CountDocuments(ctx, filter)
}
