package ratelimit

import (
	"context"
	_ "embed"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

//go:embed bucket.lua
var bucketScript string

// RedisStore is the production Store binding, backed by Redis. The bucket
// script is loaded once at construction and invoked with EVALSHA on every
// call, so the hot path never ships the script body over the wire.
type RedisStore struct {
	client    redis.UniversalClient
	scriptSHA string
}

// NewRedisStore constructs a RedisStore and loads the bucket script into
// the server's script cache. It pings the client first so misconfiguration
// fails fast at startup instead of on the first request.
func NewRedisStore(ctx context.Context, client redis.UniversalClient) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	sha, err := client.ScriptLoad(ctx, bucketScript).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load bucket script")
	}

	return &RedisStore{client: client, scriptSHA: sha}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", wrapStore(ErrStoreUnavailable, "get "+key, err)
	}
	return val, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key string, ttlSeconds int64, value string) error {
	if err := s.client.Set(ctx, key, value, secondsToDuration(ttlSeconds)).Err(); err != nil {
		return wrapStore(ErrStoreUnavailable, "setex "+key, err)
	}
	return nil
}

// Eval runs the bucket script via EVALSHA. If Redis has dropped the script
// from its cache (NOSCRIPT, typically after a Redis restart), it retries
// once with the full script body instead of requiring the caller to
// reconstruct the driver, so a mid-process Redis restart costs one slow
// call rather than a sustained fallback storm.
func (s *RedisStore) Eval(ctx context.Context, keys [3]string, now, adjMax, adjBurst, windowSeconds, cost int64) (EvalResult, error) {
	keyList := []string{keys[0], keys[1], keys[2]}
	args := []interface{}{now, adjMax, adjBurst, windowSeconds, cost}

	reply, err := s.client.EvalSha(ctx, s.scriptSHA, keyList, args...).Result()
	if err != nil && isNoScript(err) {
		reply, err = s.client.Eval(ctx, bucketScript, keyList, args...).Result()
	}
	if err != nil {
		return EvalResult{}, wrapStore(ErrScriptFailed, "eval bucket script", err)
	}

	return decodeEvalResult(reply)
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

func decodeEvalResult(reply interface{}) (EvalResult, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 3 {
		return EvalResult{}, errors.Wrap(ErrScriptFailed, "malformed bucket script reply")
	}

	admitted, err := toInt64(values[0])
	if err != nil {
		return EvalResult{}, errors.Wrap(ErrScriptFailed, "decode admitted flag")
	}
	tokensAfter, err := toInt64(values[1])
	if err != nil {
		return EvalResult{}, errors.Wrap(ErrScriptFailed, "decode tokens_after")
	}
	countAfter, err := toInt64(values[2])
	if err != nil {
		return EvalResult{}, errors.Wrap(ErrScriptFailed, "decode count_after")
	}

	return EvalResult{
		Admitted:    admitted == 1,
		TokensAfter: tokensAfter,
		CountAfter:  countAfter,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, errors.Errorf("unexpected type %T", v)
	}
}
