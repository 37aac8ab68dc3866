// Package activity maintains the per-member activity ledger the roster
// service reads from. Telegram has no last-sent-time API, so the bot records
// what it observes: messages advance last_active_at, joins seed a record at
// the zero time (never posted), leaves tombstone the record.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_warden_bot/internal/logging"
)

type activityCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Recorder upserts activity records as group updates arrive.
type Recorder struct {
	activity activityCollection
	logger   *logrus.Entry
}

// NewRecorder constructs a Recorder for the provided activity collection.
func NewRecorder(activity activityCollection, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Recorder{
		activity: activity,
		logger:   logger,
	}
}

// RecordMessage advances the member's last_active_at to now and refreshes the
// stored nickname. The record is created when absent so members first seen
// through a message are tracked too.
func (r *Recorder) RecordMessage(ctx context.Context, chatID, memberID int64, nickname string) error {
	if err := r.validate(ctx, chatID, memberID); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	setFields := bson.M{
		"last_active_at": now,
		"left":           false,
	}
	if trimmed := strings.TrimSpace(nickname); trimmed != "" {
		setFields["nickname"] = trimmed
	}

	result, err := r.activity.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "member_id": memberID},
		bson.M{
			"$set": setFields,
			"$setOnInsert": bson.M{
				"chat_id":   chatID,
				"member_id": memberID,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record message activity: %w", err)
	}

	if result != nil && result.UpsertedCount > 0 {
		r.logger.WithFields(logging.Fields{
			"event":     "member_tracked",
			"chat_id":   chatID,
			"member_id": memberID,
		}).Info("started tracking member from message")
	}

	return nil
}

// RecordJoin ensures a record exists for a member who just joined, seeding
// last_active_at at the zero time so a member who never posts classifies as
// longest-dormant. An existing record keeps its timestamp (re-joins do not
// reset history).
func (r *Recorder) RecordJoin(ctx context.Context, chatID, memberID int64, nickname string) error {
	if err := r.validate(ctx, chatID, memberID); err != nil {
		return err
	}

	setFields := bson.M{"left": false}
	if trimmed := strings.TrimSpace(nickname); trimmed != "" {
		setFields["nickname"] = trimmed
	}

	result, err := r.activity.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "member_id": memberID},
		bson.M{
			"$set": setFields,
			"$setOnInsert": bson.M{
				"chat_id":        chatID,
				"member_id":      memberID,
				"last_active_at": time.Time{},
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record member join: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	r.logger.WithFields(logging.Fields{
		"event":     "member_joined",
		"chat_id":   chatID,
		"member_id": memberID,
		"new":       created,
	}).Info("recorded member join")

	return nil
}

// RecordLeave tombstones the member's record so roster fetches skip it. The
// record itself is kept: if the member re-joins, their activity history
// survives.
func (r *Recorder) RecordLeave(ctx context.Context, chatID, memberID int64) error {
	if err := r.validate(ctx, chatID, memberID); err != nil {
		return err
	}

	if _, err := r.activity.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "member_id": memberID},
		bson.M{"$set": bson.M{"left": true}},
	); err != nil {
		return fmt.Errorf("record member leave: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":     "member_left",
		"chat_id":   chatID,
		"member_id": memberID,
	}).Info("recorded member leave")

	return nil
}

func (r *Recorder) validate(ctx context.Context, chatID, memberID int64) error {
	if r == nil || r.activity == nil {
		return errors.New("activity recorder is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	if memberID == 0 {
		return errors.New("member id is required")
	}
	return nil
}
