package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors surfaced by the store.
var (
	// ErrSessionNotFound is returned when the session does not exist or
	// has expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenNotFound is returned when a refresh-token record does not
	// exist.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// rotateScript classifies and executes one rotation attempt atomically.
// Status codes match the RotateStatus constants. Reuse means the token was
// superseded by a rotation, which only the has_child marker proves; a token
// revoked by a cascade has no child and fails as session-gone without
// raising a second alarm. The reuse branch revokes the session and every
// token in its chain before returning, so callers observe reuse and cascade
// as one event. Rotation re-arms the session and chain TTLs so an active
// client is never cut off mid-chain.
const rotateScript = `
local prefix = ARGV[1]
local token_id = ARGV[2]
local provided_hash = ARGV[3]
local new_token_id = ARGV[4]
local new_hash = ARGV[5]
local now = tonumber(ARGV[6])
local new_expires_at = ARGV[7]
local ttl_ms = tonumber(ARGV[8])

local rt_key = prefix .. ":rt:" .. token_id
local fields = redis.call("HMGET", rt_key, "session_id", "user_id", "hash", "expires_at", "revoked", "has_child")
local session_id = fields[1]
local user_id = fields[2]
local stored_hash = fields[3]
local expires_at = tonumber(fields[4])
local revoked = fields[5]
local has_child = fields[6]

if not session_id or not stored_hash then
  return {0}
end
if stored_hash ~= provided_hash then
  return {0}
end

local session_key = prefix .. ":s:" .. session_id
local chain_key = prefix .. ":sr:" .. session_id

if revoked == "1" then
  if has_child ~= "1" then
    return {2, session_id, user_id}
  end
  local members = redis.call("SMEMBERS", chain_key)
  for i = 1, #members do
    redis.call("HSET", prefix .. ":rt:" .. members[i], "revoked", "1")
  end
  redis.call("DEL", session_key)
  redis.call("DEL", chain_key)
  return {3, session_id, user_id}
end

if not expires_at or expires_at <= now then
  return {1, session_id, user_id}
end

if redis.call("EXISTS", session_key) == 0 then
  return {2, session_id, user_id}
end

redis.call("HSET", rt_key, "revoked", "1", "has_child", "1")
redis.call("HSET", prefix .. ":rt:" .. new_token_id,
  "session_id", session_id,
  "user_id", user_id,
  "hash", new_hash,
  "rotated_from", token_id,
  "created_at", tostring(now),
  "expires_at", new_expires_at,
  "revoked", "0")
redis.call("PEXPIRE", prefix .. ":rt:" .. new_token_id, ttl_ms)
redis.call("SADD", chain_key, new_token_id)
redis.call("PEXPIRE", chain_key, ttl_ms)
redis.call("HSET", session_key, "expires_at", new_expires_at)
redis.call("PEXPIRE", session_key, ttl_ms)
return {4, session_id, user_id}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeSessionScript deletes the session plus every token record in its
// chain. Deleted tokens replay as not-found, which keeps logout idempotent
// and indistinguishable from a token that never existed.
const revokeSessionScript = `
local prefix = ARGV[1]
local session_id = ARGV[2]

local chain_key = prefix .. ":sr:" .. session_id
local members = redis.call("SMEMBERS", chain_key)
for i = 1, #members do
  redis.call("DEL", prefix .. ":rt:" .. members[i])
end
redis.call("DEL", chain_key)
return redis.call("DEL", prefix .. ":s:" .. session_id)
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// revokeTokenScript deletes exactly the presented token after checking its
// secret hash. The rest of the session is untouched; a device logging out
// must not invalidate another device's chain. The reply carries the owning
// ids read in the same script call, so concurrent revokes cannot skew the
// attribution.
const revokeTokenScript = `
local prefix = ARGV[1]
local token_id = ARGV[2]
local provided_hash = ARGV[3]

local rt_key = prefix .. ":rt:" .. token_id
local fields = redis.call("HMGET", rt_key, "session_id", "user_id", "hash")
local session_id = fields[1]
local user_id = fields[2]
local stored_hash = fields[3]
if not session_id or not stored_hash or stored_hash ~= provided_hash then
  return {0}
end

redis.call("DEL", rt_key)
redis.call("SREM", prefix .. ":sr:" .. session_id, token_id)
return {1, session_id, user_id}
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// Store is the Redis-backed session and refresh-chain store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store namespaced under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "idb"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) tokenKey(tokenID string) string {
	return s.prefix + ":rt:" + tokenID
}

func (s *Store) chainKey(sessionID string) string {
	return s.prefix + ":sr:" + sessionID
}

// CreateSession persists a new session together with the first token of its
// refresh chain. Both expire with ttl.
func (s *Store) CreateSession(ctx context.Context, sess *Session, first *RefreshToken, ttl time.Duration) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sessionKey(sess.ID),
			"user_id", sess.UserID,
			"provider", sess.Provider,
			"client_ip", sess.ClientIP,
			"user_agent", sess.UserAgent,
			"created_at", strconv.FormatInt(sess.CreatedAt, 10),
			"expires_at", strconv.FormatInt(sess.ExpiresAt, 10),
		)
		pipe.PExpire(ctx, s.sessionKey(sess.ID), ttl)

		pipe.HSet(ctx, s.tokenKey(first.ID),
			"session_id", first.SessionID,
			"user_id", first.UserID,
			"hash", first.Hash,
			"rotated_from", first.RotatedFromID,
			"created_at", strconv.FormatInt(first.CreatedAt, 10),
			"expires_at", strconv.FormatInt(first.ExpiresAt, 10),
			"revoked", "0",
		)
		pipe.PExpire(ctx, s.tokenKey(first.ID), ttl)

		pipe.SAdd(ctx, s.chainKey(sess.ID), first.ID)
		pipe.PExpire(ctx, s.chainKey(sess.ID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetSession fetches a live session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	return &Session{
		ID:        sessionID,
		UserID:    fields["user_id"],
		Provider:  fields["provider"],
		ClientIP:  fields["client_ip"],
		UserAgent: fields["user_agent"],
		CreatedAt: parseInt64(fields["created_at"]),
		ExpiresAt: parseInt64(fields["expires_at"]),
	}, nil
}

// GetRefreshToken fetches a refresh-token record by id. Rotated and revoked
// records are returned as-is until their TTL reaps them.
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}

	return &RefreshToken{
		ID:            tokenID,
		SessionID:     fields["session_id"],
		UserID:        fields["user_id"],
		Hash:          fields["hash"],
		RotatedFromID: fields["rotated_from"],
		CreatedAt:     parseInt64(fields["created_at"]),
		ExpiresAt:     parseInt64(fields["expires_at"]),
		Revoked:       fields["revoked"] == "1",
		HasChild:      fields["has_child"] == "1",
	}, nil
}

// Rotate attempts to exchange the presented token for a new chain link. On
// RotateRotated the new token record exists under newTokenID; on RotateReuse
// the session and its chain have been revoked.
func (s *Store) Rotate(ctx context.Context, tokenID, providedHash, newTokenID, newHash string, now time.Time, ttl time.Duration) (RotateResult, error) {
	raw, err := rotateLua.Run(ctx, s.redis, nil,
		s.prefix,
		tokenID,
		providedHash,
		newTokenID,
		newHash,
		now.Unix(),
		strconv.FormatInt(now.Add(ttl).Unix(), 10),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate reply %T", ErrRedisUnavailable, raw)
	}

	status, ok := reply[0].(int64)
	if !ok {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate status %T", ErrRedisUnavailable, reply[0])
	}

	result := RotateResult{Status: RotateStatus(status)}
	if len(reply) >= 3 {
		result.SessionID, _ = reply[1].(string)
		result.UserID, _ = reply[2].(string)
	}
	return result, nil
}

// RevokeSession deletes the session and every token in its chain. Returns
// whether the session existed; revoking an already-dead session is not an
// error.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	raw, err := revokeSessionLua.Run(ctx, s.redis, nil, s.prefix, sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	existed, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("%w: unexpected revoke reply %T", ErrRedisUnavailable, raw)
	}
	return existed == 1, nil
}

// RevokeToken deletes exactly the presented token. Existed is false for both
// the unknown-token and hash-mismatch cases without distinguishing them;
// SessionID and UserID are set only when the token was revoked.
func (s *Store) RevokeToken(ctx context.Context, tokenID, providedHash string) (RevokeTokenResult, error) {
	raw, err := revokeTokenLua.Run(ctx, s.redis, nil, s.prefix, tokenID, providedHash).Result()
	if err != nil {
		return RevokeTokenResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return RevokeTokenResult{}, fmt.Errorf("%w: unexpected revoke reply %T", ErrRedisUnavailable, raw)
	}
	existed, ok := reply[0].(int64)
	if !ok {
		return RevokeTokenResult{}, fmt.Errorf("%w: unexpected revoke status %T", ErrRedisUnavailable, reply[0])
	}

	result := RevokeTokenResult{Existed: existed == 1}
	if len(reply) >= 3 {
		result.SessionID, _ = reply[1].(string)
		result.UserID, _ = reply[2].(string)
	}
	return result, nil
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
