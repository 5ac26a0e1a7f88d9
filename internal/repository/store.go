// Package repository wraps the external key-value store the core consumes
// for configuration and durable counters. The core never assumes anything
// about the store beyond "atomic per key"; this package is the one place
// that translates typed calls into the wire format of whatever store is
// actually deployed (Redis, per spec.md §6).
package repository

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
)

// Key names mirror spec.md §6's repository interface table exactly; no
// other package should spell these strings itself.
const (
	keyBillCount            = "bill_count"
	keyMaxBillCount         = "max_bill_count"
	keyBillAcceptorFirmware = "bill_acceptor_firmware"
	keyDispenserUpperLvl    = "bill_dispenser:upper_lvl"
	keyDispenserLowerLvl    = "bill_dispenser:lower_lvl"
	keyDispenserUpperCount  = "bill_dispenser:upper_count"
	keyDispenserLowerCount  = "bill_dispenser:lower_count"
	keyTargetAmount         = "target_amount"
	keyCollectedAmount      = "collected_amount"
	keyIsTestMode           = "cash_system_is_test_mode"
	keyAvailableDevices     = "available_devices_cash"
	keyBigCoinPriority      = "settings:big_coin_priority"
)

// Store is the typed surface the coordinator uses. Every method maps to
// one repository key from spec.md §6, except the DispenserLevels and
// DispenserCounts pairs, which read or write the upper and lower keys
// together; there is no generic
// Get/Set escape hatch so a caller can't invent an untracked key.
type Store interface {
	BillCount(ctx context.Context) (uint32, error)
	SetBillCount(ctx context.Context, n uint32) error
	IncrBillCount(ctx context.Context) error
	MaxBillCount(ctx context.Context) (uint32, error)
	SetMaxBillCount(ctx context.Context, n uint32) error

	BillAcceptorFirmware(ctx context.Context) (string, error)

	DispenserLevels(ctx context.Context) (upperKop, lowerKop int64, err error)
	SetDispenserLevels(ctx context.Context, upperKop, lowerKop int64) error
	DispenserCounts(ctx context.Context) (upper, lower uint32, err error)
	SetDispenserCounts(ctx context.Context, upper, lower uint32) error

	TargetAmount(ctx context.Context) (int64, error)
	SetTargetAmount(ctx context.Context, kop int64) error
	CollectedAmount(ctx context.Context) (int64, error)
	SetCollectedAmount(ctx context.Context, kop int64) error
	IncrCollectedAmount(ctx context.Context, byKop int64) (int64, error)

	IsTestMode(ctx context.Context) (bool, error)
	AvailableDevices(ctx context.Context) (map[string]bool, error)
	BigCoinPriority(ctx context.Context) (bool, error)
}

// RedisStore is the Store backed by a Redis (or Redis-protocol-compatible)
// server. Every method is a single round trip except the dispenser
// level/count pairs, which make one per key; the coordinator is
// responsible for any higher-level atomicity it needs across keys (it
// already serialises itself behind one mutex per spec.md §5).
type RedisStore struct {
	client *redis.Client
}

// New opens a Store against addr (host:port), selecting db and
// authenticating with password if non-empty.
func New(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient wraps an already-configured client, for tests and for
// callers that need TLS or cluster options this package doesn't expose.
func NewFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.KindRepositoryUnavailable, op, err)
}

func (r *RedisStore) getUint32(ctx context.Context, key string) (uint32, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, r.wrap("repository."+key, err)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errs.New(errs.KindRepositoryUnavailable, "repository."+key, err)
	}
	return uint32(n), nil
}

func (r *RedisStore) getInt64(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, r.wrap("repository."+key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errs.New(errs.KindRepositoryUnavailable, "repository."+key, err)
	}
	return n, nil
}

func (r *RedisStore) setInt(ctx context.Context, key string, v int64) error {
	return r.wrap("repository."+key, r.client.Set(ctx, key, v, 0).Err())
}

func (r *RedisStore) BillCount(ctx context.Context) (uint32, error) {
	return r.getUint32(ctx, keyBillCount)
}

func (r *RedisStore) SetBillCount(ctx context.Context, n uint32) error {
	return r.setInt(ctx, keyBillCount, int64(n))
}

// IncrBillCount atomically increments bill_count by one, using Redis'
// native INCR so two concurrent acceptor events can never race each
// other's read-modify-write.
func (r *RedisStore) IncrBillCount(ctx context.Context) error {
	return r.wrap("repository."+keyBillCount, r.client.Incr(ctx, keyBillCount).Err())
}

func (r *RedisStore) MaxBillCount(ctx context.Context) (uint32, error) {
	return r.getUint32(ctx, keyMaxBillCount)
}

func (r *RedisStore) SetMaxBillCount(ctx context.Context, n uint32) error {
	return r.setInt(ctx, keyMaxBillCount, int64(n))
}

func (r *RedisStore) BillAcceptorFirmware(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, keyBillAcceptorFirmware).Result()
	if err == redis.Nil {
		return "v2", nil
	}
	if err != nil {
		return "", r.wrap("repository."+keyBillAcceptorFirmware, err)
	}
	return v, nil
}

// DispenserLevels returns the per-cassette denomination, in kopecks. The
// store persists rubles and this converts ×100 at read, per spec.md §6's
// "per-box denomination in rubles (×100 at read)" note.
func (r *RedisStore) DispenserLevels(ctx context.Context) (upperKop, lowerKop int64, err error) {
	upperRub, err := r.getInt64(ctx, keyDispenserUpperLvl)
	if err != nil {
		return 0, 0, err
	}
	lowerRub, err := r.getInt64(ctx, keyDispenserLowerLvl)
	if err != nil {
		return 0, 0, err
	}
	return rubToKop(upperRub), rubToKop(lowerRub), nil
}

func (r *RedisStore) SetDispenserLevels(ctx context.Context, upperKop, lowerKop int64) error {
	if err := r.setInt(ctx, keyDispenserUpperLvl, kopToRub(upperKop)); err != nil {
		return err
	}
	return r.setInt(ctx, keyDispenserLowerLvl, kopToRub(lowerKop))
}

// rubToKop/kopToRub convert the store's ruble-denominated denomination
// fields to/from the kopeck unit the rest of the core uses, per spec.md
// §6's "per-box denomination in rubles (×100 at read)" note.
func rubToKop(rub int64) int64 { return rub * 100 }
func kopToRub(kop int64) int64 { return kop / 100 }

func (r *RedisStore) DispenserCounts(ctx context.Context) (upper, lower uint32, err error) {
	upper, err = r.getUint32(ctx, keyDispenserUpperCount)
	if err != nil {
		return 0, 0, err
	}
	lower, err = r.getUint32(ctx, keyDispenserLowerCount)
	if err != nil {
		return 0, 0, err
	}
	return upper, lower, nil
}

func (r *RedisStore) SetDispenserCounts(ctx context.Context, upper, lower uint32) error {
	if err := r.setInt(ctx, keyDispenserUpperCount, int64(upper)); err != nil {
		return err
	}
	return r.setInt(ctx, keyDispenserLowerCount, int64(lower))
}

func (r *RedisStore) TargetAmount(ctx context.Context) (int64, error) {
	return r.getInt64(ctx, keyTargetAmount)
}

func (r *RedisStore) SetTargetAmount(ctx context.Context, kop int64) error {
	return r.setInt(ctx, keyTargetAmount, kop)
}

func (r *RedisStore) CollectedAmount(ctx context.Context) (int64, error) {
	return r.getInt64(ctx, keyCollectedAmount)
}

func (r *RedisStore) SetCollectedAmount(ctx context.Context, kop int64) error {
	return r.setInt(ctx, keyCollectedAmount, kop)
}

// IncrCollectedAmount atomically adds byKop to collected_amount and
// returns the new total. The coordinator does not call it: its
// accumulation step keeps the total itself and writes it with
// SetCollectedAmount.
func (r *RedisStore) IncrCollectedAmount(ctx context.Context, byKop int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, keyCollectedAmount, byKop).Result()
	if err != nil {
		return 0, r.wrap("repository."+keyCollectedAmount, err)
	}
	return n, nil
}

func (r *RedisStore) IsTestMode(ctx context.Context) (bool, error) {
	return r.truthy(ctx, keyIsTestMode)
}

func (r *RedisStore) BigCoinPriority(ctx context.Context) (bool, error) {
	return r.truthy(ctx, keyBigCoinPriority)
}

func (r *RedisStore) truthy(ctx context.Context, key string) (bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, r.wrap("repository."+key, err)
	}
	return v != "" && v != "0" && v != "false", nil
}

// AvailableDevices returns the set of device names this deployment expects
// to find connected, backed by a Redis set per spec.md §6.
func (r *RedisStore) AvailableDevices(ctx context.Context) (map[string]bool, error) {
	members, err := r.client.SMembers(ctx, keyAvailableDevices).Result()
	if err != nil {
		return nil, r.wrap("repository."+keyAvailableDevices, err)
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}
	return out, nil
}
