package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

var serialRevokeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "entpool_serial_revoke_duration_ms",
	Help:    "Latency of serial revocations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	serialCounterKey = "crl:serial:next"
	serialKeyPrefix  = "crl:serial:"
)

// RedisSerialStore keeps the serial counter and revocation list in Redis so
// multiple instances share state. Entries have no TTL: revocation is
// permanent and serials are never recycled.
type RedisSerialStore struct {
	client *redis.Client
}

func NewRedisSerialStore(client *redis.Client) *RedisSerialStore {
	return &RedisSerialStore{client: client}
}

func (s *RedisSerialStore) NextSerial(ctx context.Context) (id.SerialID, error) {
	n, err := s.client.Incr(ctx, serialCounterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate serial: %w", err)
	}
	serial := id.SerialID(n)
	err = s.client.HSet(ctx, serialKey(serial),
		"revoked", "0",
		"issued_at", strconv.FormatInt(time.Now().Unix(), 10),
	).Err()
	if err != nil {
		return 0, fmt.Errorf("record serial: %w", err)
	}
	return serial, nil
}

func (s *RedisSerialStore) MarkRevoked(ctx context.Context, serial id.SerialID) error {
	start := time.Now()
	defer func() {
		serialRevokeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	exists, err := s.client.Exists(ctx, serialKey(serial)).Result()
	if err != nil {
		return fmt.Errorf("check serial: %w", err)
	}
	if exists == 0 {
		return sentinel.ErrNotFound
	}
	return s.client.HSet(ctx, serialKey(serial), "revoked", "1").Err()
}

func (s *RedisSerialStore) Get(ctx context.Context, serial id.SerialID) (SerialStatus, error) {
	fields, err := s.client.HGetAll(ctx, serialKey(serial)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return SerialStatus{}, fmt.Errorf("get serial: %w", err)
	}
	if len(fields) == 0 {
		return SerialStatus{}, sentinel.ErrNotFound
	}
	issued, _ := strconv.ParseInt(fields["issued_at"], 10, 64)
	return SerialStatus{
		Serial:   serial,
		Revoked:  fields["revoked"] == "1",
		IssuedAt: time.Unix(issued, 0),
	}, nil
}

func serialKey(serial id.SerialID) string {
	return serialKeyPrefix + strconv.FormatInt(int64(serial), 10)
}

var _ SerialStore = (*RedisSerialStore)(nil)
