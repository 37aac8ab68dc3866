package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type statsCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
}

// StatsProvider exposes helper methods to retrieve activity-ledger counts for
// basic diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	activity statsCollection
}

// NewStatsProvider constructs a StatsProvider backed by the activity ledger.
func NewStatsProvider(activity statsCollection) *StatsProvider {
	return &StatsProvider{activity: activity}
}

// CountTrackedMembers returns the number of (chat, member) activity records.
func (p *StatsProvider) CountTrackedMembers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.activity == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.activity.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count tracked members: %w", err)
	}

	return count, nil
}

// CountTrackedGroups returns the number of distinct chats in the ledger.
func (p *StatsProvider) CountTrackedGroups(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.activity == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	chats, err := p.activity.Distinct(ctx, "chat_id", bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count tracked groups: %w", err)
	}

	return int64(len(chats)), nil
}
