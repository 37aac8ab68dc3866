package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type updateCall struct {
	filter bson.M
	update bson.M
	upsert bool
}

type fakeActivityCollection struct {
	calls    []updateCall
	err      error
	upserted int64
}

func (f *fakeActivityCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	call := updateCall{
		filter: filter.(bson.M),
		update: update.(bson.M),
	}
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			call.upsert = true
		}
	}
	f.calls = append(f.calls, call)

	if f.err != nil {
		return nil, f.err
	}
	return &mongo.UpdateResult{UpsertedCount: f.upserted}, nil
}

func newTestRecorder(coll *fakeActivityCollection) *Recorder {
	logger, _ := logtest.NewNullLogger()
	return NewRecorder(coll, logrus.NewEntry(logger))
}

func setFields(t *testing.T, call updateCall) bson.M {
	t.Helper()
	set, ok := call.update["$set"].(bson.M)
	if !ok {
		t.Fatalf("expected $set in update, got %v", call.update)
	}
	return set
}

func insertFields(t *testing.T, call updateCall) bson.M {
	t.Helper()
	insert, ok := call.update["$setOnInsert"].(bson.M)
	if !ok {
		t.Fatalf("expected $setOnInsert in update, got %v", call.update)
	}
	return insert
}

func TestRecordMessageUpsertsLastActive(t *testing.T) {
	coll := &fakeActivityCollection{upserted: 1}
	recorder := newTestRecorder(coll)

	before := time.Now().UTC()
	if err := recorder.RecordMessage(context.Background(), -100, 42, " Alice "); err != nil {
		t.Fatalf("RecordMessage returned error: %v", err)
	}

	if len(coll.calls) != 1 {
		t.Fatalf("expected 1 update, got %d", len(coll.calls))
	}

	call := coll.calls[0]
	if !call.upsert {
		t.Fatalf("expected upsert option")
	}
	if call.filter["chat_id"] != int64(-100) || call.filter["member_id"] != int64(42) {
		t.Fatalf("unexpected filter %v", call.filter)
	}

	set := setFields(t, call)
	lastActive, ok := set["last_active_at"].(time.Time)
	if !ok || lastActive.Before(before.Truncate(time.Millisecond)) {
		t.Fatalf("expected last_active_at to be set to now, got %v", set["last_active_at"])
	}
	if set["nickname"] != "Alice" {
		t.Fatalf("expected trimmed nickname, got %v", set["nickname"])
	}
	if set["left"] != false {
		t.Fatalf("expected left=false, got %v", set["left"])
	}

	insert := insertFields(t, call)
	if insert["chat_id"] != int64(-100) || insert["member_id"] != int64(42) {
		t.Fatalf("unexpected $setOnInsert %v", insert)
	}
}

func TestRecordMessageSkipsEmptyNickname(t *testing.T) {
	coll := &fakeActivityCollection{}
	recorder := newTestRecorder(coll)

	if err := recorder.RecordMessage(context.Background(), -100, 42, "  "); err != nil {
		t.Fatalf("RecordMessage returned error: %v", err)
	}

	set := setFields(t, coll.calls[0])
	if _, present := set["nickname"]; present {
		t.Fatalf("expected blank nickname to be omitted, got %v", set)
	}
}

func TestRecordJoinSeedsZeroTimestampOnInsertOnly(t *testing.T) {
	coll := &fakeActivityCollection{}
	recorder := newTestRecorder(coll)

	if err := recorder.RecordJoin(context.Background(), -100, 42, "Bob"); err != nil {
		t.Fatalf("RecordJoin returned error: %v", err)
	}

	call := coll.calls[0]
	if !call.upsert {
		t.Fatalf("expected upsert option")
	}

	set := setFields(t, call)
	if _, present := set["last_active_at"]; present {
		t.Fatalf("join must not overwrite an existing last_active_at, got %v", set)
	}
	if set["left"] != false {
		t.Fatalf("expected left=false on join, got %v", set)
	}

	insert := insertFields(t, call)
	seeded, ok := insert["last_active_at"].(time.Time)
	if !ok || !seeded.IsZero() {
		t.Fatalf("expected zero-time seed for new members, got %v", insert["last_active_at"])
	}
}

func TestRecordLeaveTombstonesRecord(t *testing.T) {
	coll := &fakeActivityCollection{}
	recorder := newTestRecorder(coll)

	if err := recorder.RecordLeave(context.Background(), -100, 42); err != nil {
		t.Fatalf("RecordLeave returned error: %v", err)
	}

	call := coll.calls[0]
	if call.upsert {
		t.Fatalf("leave must not create records for unknown members")
	}

	set := setFields(t, call)
	if set["left"] != true {
		t.Fatalf("expected left=true, got %v", set)
	}
}

func TestRecorderValidatesInputs(t *testing.T) {
	recorder := newTestRecorder(&fakeActivityCollection{})

	if err := recorder.RecordMessage(nil, -100, 42, "x"); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := recorder.RecordMessage(context.Background(), 0, 42, "x"); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
	if err := recorder.RecordJoin(context.Background(), -100, 0, "x"); err == nil {
		t.Fatalf("expected error for missing member id")
	}

	var uninitialized *Recorder
	if err := uninitialized.RecordLeave(context.Background(), -100, 42); err == nil {
		t.Fatalf("expected error for uninitialized recorder")
	}
}

func TestRecorderPropagatesUpdateErrors(t *testing.T) {
	coll := &fakeActivityCollection{err: errors.New("write failed")}
	recorder := newTestRecorder(coll)

	if err := recorder.RecordMessage(context.Background(), -100, 42, "x"); err == nil {
		t.Fatalf("expected update error to propagate")
	}
}
