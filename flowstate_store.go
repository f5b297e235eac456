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
)

const flowStateRecordVersionV1 = 1

var (
	errFlowStateNotFound         = errors.New("flow state not found")
	errFlowStateRedisUnavailable = errors.New("flow state redis unavailable")
)

// flowStateRecord is the ephemeral server side of one OAuth flow. It exists
// from the authorization redirect until the callback consumes it, or until
// the TTL reaps it.
type flowStateRecord struct {
	Provider      string
	Nonce         string
	CodeVerifier  string
	RedirectURI   string
	LinkingUserID string
	CreatedAt     int64
}

type flowStateStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newFlowStateStore(client redis.UniversalClient, prefix string, ttl time.Duration) *flowStateStore {
	return &flowStateStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *flowStateStore) key(state string) string {
	return s.prefix + ":st:" + state
}

func (s *flowStateStore) Save(ctx context.Context, state string, record *flowStateRecord) error {
	encoded, err := encodeFlowStateRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(state), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errFlowStateRedisUnavailable, err)
	}
	return nil
}

// Consume fetches and deletes the record in one step. GETDEL makes the
// single-use guarantee: two callbacks racing on the same state see exactly
// one success.
func (s *flowStateStore) Consume(ctx context.Context, state string) (*flowStateRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errFlowStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFlowStateRedisUnavailable, err)
	}
	return decodeFlowStateRecord(data)
}

func encodeFlowStateRecord(r *flowStateRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(flowStateRecordVersionV1)
	for _, s := range []string{r.Provider, r.Nonce, r.CodeVerifier, r.RedirectURI, r.LinkingUserID} {
		if err := writeFlowString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeFlowStateRecord(data []byte) (*flowStateRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != flowStateRecordVersionV1 {
		return nil, errors.New("unsupported flow state record version")
	}

	r := &flowStateRecord{}
	for _, dst := range []*string{&r.Provider, &r.Nonce, &r.CodeVerifier, &r.RedirectURI, &r.LinkingUserID} {
		if *dst, err = readFlowString(reader); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}

	return r, nil
}

func writeFlowString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("flow state field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readFlowString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
