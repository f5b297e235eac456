package idbroker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyfold/idbroker/internal"
)

const otpRecordVersionV1 = 1

var (
	errOTPNotFound         = errors.New("otp record not found")
	errOTPCodeMismatch     = errors.New("otp code mismatch")
	errOTPExpiredRecord    = errors.New("otp record expired")
	errOTPLockedRecord     = errors.New("otp locked")
	errOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// otpRecord is one outstanding phone challenge. Only the code hash is
// stored. The record outlives the code TTL when a lockout is active so the
// lock survives re-requests.
type otpRecord struct {
	CodeHash    string
	ExpiresAt   int64
	Attempts    uint16
	LockedUntil int64
}

type otpStore struct {
	redis  redis.UniversalClient
	prefix string
	cfg    OTPConfig
}

func newOTPStore(client redis.UniversalClient, prefix string, cfg OTPConfig) *otpStore {
	return &otpStore{redis: client, prefix: prefix, cfg: cfg}
}

func (s *otpStore) key(phone string) string {
	return s.prefix + ":otp:" + phone
}

// Issue stores a fresh challenge for phone, replacing any previous one.
// Fails with errOTPLockedRecord while a lockout from earlier failed
// verifications is still active.
func (s *otpStore) Issue(ctx context.Context, phone, code string, now time.Time) error {
	const maxRetries = 4
	key := s.key(phone)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				record, decodeErr := decodeOTPRecord(data)
				if decodeErr == nil && record.LockedUntil > now.Unix() {
					return errOTPLockedRecord
				}
			}

			fresh := &otpRecord{
				CodeHash:  internal.HashToken(code),
				ExpiresAt: now.Add(s.cfg.TTL).Unix(),
			}
			encoded, err := encodeOTPRecord(fresh)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.recordTTL())
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err == nil || errors.Is(err, errOTPLockedRecord) {
			return err
		}
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}
	return fmt.Errorf("%w: issue retries exhausted", errOTPRedisUnavailable)
}

// Consume verifies code against the outstanding challenge. A correct code
// deletes the record; a wrong one burns an attempt and, at the limit, locks
// the phone for the configured duration. The check-and-update runs in one
// optimistic transaction so concurrent guesses cannot stretch the attempt
// budget.
func (s *otpStore) Consume(ctx context.Context, phone, code string, now time.Time) error {
	const maxRetries = 4
	key := s.key(phone)
	providedHash := internal.HashToken(code)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if record.LockedUntil > now.Unix() {
				return errOTPLockedRecord
			}
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOTPExpiredRecord
			}

			if internal.ConstantTimeEquals(record.CodeHash, providedHash) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			record.Attempts++
			outcome := error(errOTPCodeMismatch)
			if int(record.Attempts) >= s.cfg.MaxAttempts {
				record.CodeHash = ""
				record.LockedUntil = now.Add(s.cfg.LockDuration).Unix()
				outcome = errOTPLockedRecord
			}

			encoded, err := encodeOTPRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.recordTTL())
				return nil
			})
			if err != nil {
				return err
			}
			return outcome
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return errOTPNotFound
		}
		if err == nil || errors.Is(err, errOTPCodeMismatch) ||
			errors.Is(err, errOTPLockedRecord) || errors.Is(err, errOTPExpiredRecord) {
			return err
		}
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}
	return fmt.Errorf("%w: consume retries exhausted", errOTPRedisUnavailable)
}

// recordTTL keeps the record alive long enough to carry a lockout, not just
// the code window.
func (s *otpStore) recordTTL() time.Duration {
	if s.cfg.LockDuration > s.cfg.TTL {
		return s.cfg.LockDuration
	}
	return s.cfg.TTL
}

func encodeOTPRecord(r *otpRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)
	if len(r.CodeHash) > 255 {
		return nil, errors.New("otp hash too long")
	}
	buf.WriteByte(byte(len(r.CodeHash)))
	buf.WriteString(r.CodeHash)
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.LockedUntil); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("unsupported otp record version")
	}

	hashLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rawHash := make([]byte, hashLen)
	if _, err := io.ReadFull(reader, rawHash); err != nil {
		return nil, err
	}

	r := &otpRecord{CodeHash: string(rawHash)}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LockedUntil); err != nil {
		return nil, err
	}

	return r, nil
}
