package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-checkin/internal/models"
)

// RedisMirror shares per-gate counters and the recent feed between the
// devices working one gate. The local Session stays authoritative for the
// device; the mirror is a best-effort aggregate.
type RedisMirror struct {
	Client     *redis.Client
	RecentSize int64
	TTL        time.Duration
}

func NewRedisMirror(client *redis.Client, recentSize int) *RedisMirror {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	return &RedisMirror{
		Client:     client,
		RecentSize: int64(recentSize),
		TTL:        24 * time.Hour,
	}
}

func countersKey(gateID string) string {
	return "checkin:gate:" + gateID + ":counters"
}

func recentKey(gateID string) string {
	return "checkin:gate:" + gateID + ":recent"
}

// Record bumps the gate's counter for rec and pushes it onto the gate feed
// in one MULTI/EXEC.
func (m *RedisMirror) Record(ctx context.Context, gateID string, rec models.ScanRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal scan record: %w", err)
	}

	ck, rk := countersKey(gateID), recentKey(gateID)
	_, err = m.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, ck, string(rec.Classification), 1)
		p.HIncrBy(ctx, ck, "total", 1)
		p.LPush(ctx, rk, body)
		p.LTrim(ctx, rk, 0, m.RecentSize-1)
		p.Expire(ctx, ck, m.TTL)
		p.Expire(ctx, rk, m.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror scan for gate %s: %w", gateID, err)
	}
	return nil
}

// Counters returns the shared counters of a gate. A gate nobody scanned at
// yet has zero counters.
func (m *RedisMirror) Counters(ctx context.Context, gateID string) (Counters, error) {
	vals, err := m.Client.HGetAll(ctx, countersKey(gateID)).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("failed to read counters for gate %s: %w", gateID, err)
	}

	get := func(field string) int {
		n, _ := strconv.Atoi(vals[field])
		return n
	}
	return Counters{
		Valid:     get(string(models.ClassValid)),
		Duplicate: get(string(models.ClassDuplicate)),
		Invalid:   get(string(models.ClassInvalid)),
		Revoked:   get(string(models.ClassRevoked)),
		Total:     get("total"),
	}, nil
}

// Recent returns up to n records from the gate feed, newest first.
func (m *RedisMirror) Recent(ctx context.Context, gateID string, n int) ([]models.ScanRecord, error) {
	if n <= 0 || int64(n) > m.RecentSize {
		n = int(m.RecentSize)
	}
	raw, err := m.Client.LRange(ctx, recentKey(gateID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read feed for gate %s: %w", gateID, err)
	}

	out := make([]models.ScanRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.ScanRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Reset clears the shared gate state at shift change.
func (m *RedisMirror) Reset(ctx context.Context, gateID string) error {
	if err := m.Client.Del(ctx, countersKey(gateID), recentKey(gateID)).Err(); err != nil {
		return fmt.Errorf("failed to reset gate %s: %w", gateID, err)
	}
	return nil
}
