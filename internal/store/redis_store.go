package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"swaprelay/internal/contract"
)

const (
	defaultRedisPrefix = "swaprelay:"
	lockTTL            = 10 * time.Second
	lockPollInterval   = 25 * time.Millisecond
)

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps the state as a JSON string and the ledger as one hash.
// Commits run inside MULTI/EXEC.
type RedisStore struct {
	client    *redis.Client
	stateKey  string
	ledgerKey string
	lockKey   string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisStore(client, opts.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:    client,
		stateKey:  prefix + "state",
		ledgerKey: prefix + "withdraw_timestamps",
		lockKey:   prefix + "lock",
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for direct access.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Lock polls SET NX with a random token until it wins or ctx is done. The key
// expires after lockTTL so a crashed holder cannot wedge other replicas.
func (r *RedisStore) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, r.lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(ctx, r.client, []string{r.lockKey}, token).Err()
	}, nil
}

func (r *RedisStore) LoadState(ctx context.Context) (*contract.State, error) {
	raw, err := r.client.Get(ctx, r.stateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, contract.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var st contract.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func (r *RedisStore) Stamps(ctx context.Context, keys []contract.DepositKey) (map[contract.DepositKey]time.Time, error) {
	out := make(map[contract.DepositKey]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = k.String()
	}
	vals, err := r.client.HMGet(ctx, r.ledgerKey, fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("stamp %s: unexpected type %T", fields[i], v)
		}
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stamp %s: %w", fields[i], err)
		}
		out[keys[i]] = time.Unix(0, ns)
	}
	return out, nil
}

func (r *RedisStore) Commit(ctx context.Context, mut contract.Mutation) error {
	var state []byte
	if mut.State != nil {
		raw, err := json.Marshal(mut.State)
		if err != nil {
			return err
		}
		state = raw
	}
	stamps := make(map[string]interface{}, len(mut.Stamps))
	for k, t := range mut.Stamps {
		stamps[k.String()] = t.UnixNano()
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if state != nil {
			pipe.Set(ctx, r.stateKey, state, 0)
		}
		if len(stamps) > 0 {
			pipe.HSet(ctx, r.ledgerKey, stamps)
		}
		return nil
	})
	return err
}
