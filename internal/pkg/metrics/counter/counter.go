package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const licenseVerificationsKey = "license:counters:verifications"

// VerificationCounter buffers successful verifications per license in a Redis
// hash and flushes them into licenses.verify_count in batches.
type VerificationCounter struct {
	rdb redis.UniversalClient
	db  *gorm.DB
}

func NewVerificationCounter(rdb redis.UniversalClient, db *gorm.DB) *VerificationCounter {
	return &VerificationCounter{rdb: rdb, db: db}
}

// Add increments the pending counter for a license.
func (c *VerificationCounter) Add(ctx context.Context, licenseID uint) error {
	field := strconv.FormatUint(uint64(licenseID), 10)
	return c.rdb.HIncrBy(ctx, licenseVerificationsKey, field, 1).Err()
}

// Flush drains the pending counters into the database and returns the number
// of licenses updated. Counts that could not be written are merged back into
// the pending hash for the next flush.
func (c *VerificationCounter) Flush(ctx context.Context) (int, error) {
	// RENAME moves the hash atomically so increments arriving during the
	// flush land in a fresh hash.
	tmpKey := fmt.Sprintf("%s:tmp:%d", licenseVerificationsKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, licenseVerificationsKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return 0, nil
		}
		return 0, err
	}

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", tmpKey, err)
	}

	pairs := parsePairs(data)
	if len(pairs) == 0 {
		c.rdb.Del(ctx, tmpKey)
		return 0, nil
	}
	sql, args := buildIncrementSQL("licenses", "verify_count", pairs)
	if err := c.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
		if rerr := c.restore(context.WithoutCancel(ctx), tmpKey, pairs); rerr != nil {
			return 0, errors.Join(err, fmt.Errorf("restore %s: %w", tmpKey, rerr))
		}
		return 0, err
	}
	c.rdb.Del(ctx, tmpKey)
	return len(pairs), nil
}

// restore adds drained counts back to the live hash and drops tmpKey in one
// transaction.
func (c *VerificationCounter) restore(ctx context.Context, tmpKey string, pairs []pair) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pairs {
			pipe.HIncrBy(ctx, licenseVerificationsKey, strconv.FormatUint(p.id, 10), p.inc)
		}
		pipe.Del(ctx, tmpKey)
		return nil
	})
	return err
}

type pair struct {
	id  uint64
	inc int64
}

func parsePairs(data map[string]string) []pair {
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	return pairs
}

// buildIncrementSQL composes
// UPDATE <table> SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
func buildIncrementSQL(table, column string, pairs []pair) (string, []interface{}) {
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")
	return builder.String(), args
}
