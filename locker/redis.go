package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
)

// only the holder of the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

type RedisOptions struct {
	Client *redis.Client
	Wait   time.Duration // How long Obtain retries before ErrNotObtained
	Retry  time.Duration // Delay between attempts
}

// Redis is a Locker backed by SET NX PX
type Redis struct {
	RedisOptions
}

var _ Locker = &Redis{}

func NewRedis(option RedisOptions) (*Redis, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Retry <= 0 {
		option.Retry = 100 * time.Millisecond
	}
	return &Redis{
		RedisOptions: option,
	}, nil
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := shortuuid.New()
	client := r.Client.WithContext(ctx)
	deadline := time.Now().Add(r.Wait)
	for {
		ok, err := client.SetNX(key, token, ttl).Result()
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot obtain lock")
		}
		if ok {
			return &redisLock{
				client: r.Client,
				key:    key,
				token:  token,
			}, nil
		}
		if !time.Now().Add(r.Retry).Before(deadline) {
			return nil, ErrNotObtained
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotObtained
		case <-time.After(r.Retry):
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Key() string {
	return l.key
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(l.client.WithContext(ctx), []string{l.key}, l.token).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot release lock")
	}
	return nil
}
