// Package journalredis is a Redis-backed journal.Journal. It follows the
// key-prefix and JSON-blob conventions of the teacher's Redis job queue
// (queue/redis), adapted from a work-queue shape into an append-only run
// history: each entry is a JSON string value, and a per-(flow,entity) sorted
// set indexed by start time lets LastSuccessfulWatermark find the latest
// successful run in O(log n) instead of scanning every entry.
package journalredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hygge.dev/ferrors"
	"hygge.dev/journal"
	"hygge.dev/logging"
)

var log = logging.New("journalredis")

// Config configures the Redis connection and key namespace.
type Config struct {
	RedisURL  string
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "hygge:journal:"
	}
	return c
}

// Journal is a journal.Journal implementation backed by Redis.
type Journal struct {
	client *redis.Client
	ctx    context.Context
	prefix string
}

// New connects to Redis and verifies reachability with a Ping, the same
// connect-then-ping sequence the teacher's queue.NewQueue uses.
func New(ctx context.Context, cfg Config) (*Journal, error) {
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, ferrors.NewConfigError("parsing redis URL", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, ferrors.NewConfigError("connecting to redis journal backend", err)
	}

	log.WithField("prefix", cfg.KeyPrefix).Info("redis journal ready")
	return &Journal{client: client, ctx: ctx, prefix: cfg.KeyPrefix}, nil
}

// NewFromClient wraps an already-constructed client, used by tests against
// miniredis.
func NewFromClient(ctx context.Context, client *redis.Client, keyPrefix string) *Journal {
	if keyPrefix == "" {
		keyPrefix = "hygge:journal:"
	}
	return &Journal{client: client, ctx: ctx, prefix: keyPrefix}
}

func (j *Journal) entryKey(ids journal.RunIDs) string {
	return fmt.Sprintf("%sentry:%s:%s:%s", j.prefix, ids.CoordinatorRunID, ids.FlowRunID, ids.EntityRunID)
}

func (j *Journal) watermarkIndexKey(flowName, entityName string) string {
	return fmt.Sprintf("%swatermark-index:%s:%s", j.prefix, flowName, entityName)
}

func (j *Journal) BeginRun(ids journal.RunIDs, flowName, entityName, runType string, startedAt time.Time) (journal.Entry, error) {
	entry := journal.Entry{
		RunIDs:     ids,
		FlowName:   flowName,
		EntityName: entityName,
		RunType:    runType,
		StartedAt:  startedAt,
		Status:     journal.StatusRunning,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return journal.Entry{}, ferrors.NewConfigError("marshaling journal entry", err)
	}
	if err := j.client.Set(j.ctx, j.entryKey(ids), payload, 0).Err(); err != nil {
		return journal.Entry{}, ferrors.NewSinkError("writing begin_run entry to redis", err)
	}
	return entry, nil
}

func (j *Journal) CompleteRun(entry journal.Entry, status journal.Status, serializedWatermark string, hasWatermark bool, rowCount int64, runErr error) error {
	key := j.entryKey(entry.RunIDs)

	raw, err := j.client.Get(j.ctx, key).Result()
	if err == redis.Nil {
		return ferrors.NewConfigError("complete_run: no matching begin_run entry found", nil)
	}
	if err != nil {
		return ferrors.NewSourceError("reading journal entry before complete_run", err)
	}

	var stored journal.Entry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		// A partial or corrupted write is treated as if the entry never
		// completed: surfaced as a ConfigError rather than silently
		// accepted, per the journal's append-only / detect-partial-write
		// contract.
		return ferrors.NewConfigError("stored journal entry is corrupt or partially written", err)
	}

	stored.FinishedAt = time.Now()
	stored.Status = status
	stored.SerializedWatermark = serializedWatermark
	stored.HasWatermark = hasWatermark
	stored.RowCount = rowCount
	if runErr != nil {
		stored.Error = runErr.Error()
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return ferrors.NewConfigError("marshaling completed journal entry", err)
	}
	if err := j.client.Set(j.ctx, key, payload, 0).Err(); err != nil {
		return ferrors.NewSinkError("writing complete_run entry to redis", err)
	}

	if status == journal.StatusOK && hasWatermark {
		indexKey := j.watermarkIndexKey(entry.FlowName, entry.EntityName)
		member := fmt.Sprintf("%s|%s", key, serializedWatermark)
		if err := j.client.ZAdd(j.ctx, indexKey, redis.Z{
			Score:  float64(stored.StartedAt.Unix()),
			Member: member,
		}).Err(); err != nil {
			return ferrors.NewSinkError("indexing successful watermark", err)
		}
	}
	return nil
}

func (j *Journal) LastSuccessfulWatermark(flowName, entityName string) (string, bool, error) {
	indexKey := j.watermarkIndexKey(flowName, entityName)

	members, err := j.client.ZRevRangeWithScores(j.ctx, indexKey, 0, 0).Result()
	if err != nil {
		return "", false, ferrors.NewSourceError("querying watermark index", err)
	}
	if len(members) == 0 {
		return "", false, nil
	}

	member := fmt.Sprintf("%v", members[0].Member)
	sep := len(member)
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == '|' {
			sep = i
			break
		}
	}
	if sep == len(member) {
		return "", false, nil
	}
	return member[sep+1:], true, nil
}

func (j *Journal) Close() error {
	return j.client.Close()
}
