package storage_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setHook answers SADD, SREM and SCARD from memory so the redis client never
// dials. Any other command fails the test through errUnexpected.
type setHook struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
	cmds []string
}

var errUnexpected = errors.New("unexpected redis command")

func newSetHook() *setHook {
	return &setHook{sets: make(map[string]map[string]struct{})}
}

func (h *setHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errUnexpected
	}
}

func (h *setHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		return errUnexpected
	}
}

func (h *setHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		args := cmd.Args()
		key := fmt.Sprint(args[1])
		h.cmds = append(h.cmds, cmd.Name()+" "+key)
		set := h.sets[key]
		if set == nil {
			set = make(map[string]struct{})
			h.sets[key] = set
		}

		intCmd, ok := cmd.(*redis.IntCmd)
		if !ok {
			cmd.SetErr(errUnexpected)
			return errUnexpected
		}
		var changed int64
		switch cmd.Name() {
		case "sadd":
			for _, m := range args[2:] {
				if _, ok := set[fmt.Sprint(m)]; !ok {
					set[fmt.Sprint(m)] = struct{}{}
					changed++
				}
			}
			intCmd.SetVal(changed)
		case "srem":
			for _, m := range args[2:] {
				if _, ok := set[fmt.Sprint(m)]; ok {
					delete(set, fmt.Sprint(m))
					changed++
				}
			}
			intCmd.SetVal(changed)
		case "scard":
			intCmd.SetVal(int64(len(set)))
		default:
			cmd.SetErr(errUnexpected)
			return errUnexpected
		}
		return nil
	}
}

func newHookedRedis(t *testing.T, hook redis.Hook) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(hook)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestService_RedisPresence(t *testing.T) {
	hook := newSetHook()
	s := storage.NewStorageService(nil, newHookedRedis(t, hook))
	ctx := context.Background()

	require.NoError(t, s.MarkOnline(ctx, models.RoleAdmin, "a1"))
	require.NoError(t, s.MarkOnline(ctx, models.RoleAdmin, "a2"))
	require.NoError(t, s.MarkOnline(ctx, models.RoleAdmin, "a1"), "marking twice keeps one member")
	require.NoError(t, s.MarkOnline(ctx, models.RoleShopper, "u1"))

	admins, err := s.OnlineCount(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), admins)

	require.NoError(t, s.MarkOffline(ctx, models.RoleAdmin, "a1"))
	require.NoError(t, s.MarkOffline(ctx, models.RoleAdmin, "ghost"))
	admins, err = s.OnlineCount(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)

	shoppers, err := s.OnlineCount(ctx, models.RoleShopper)
	require.NoError(t, err)
	assert.Equal(t, int64(1), shoppers)

	assert.Contains(t, hook.cmds, "sadd support:online:admin")
	assert.Contains(t, hook.cmds, "srem support:online:admin")
	assert.Contains(t, hook.cmds, "scard support:online:shopper")
}

// failingHook rejects every command the way an unreachable server would.
type failingHook struct{ setHook }

func (*failingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := errors.New("dial tcp: connection refused")
		cmd.SetErr(err)
		return err
	}
}

func TestService_RedisPresenceErrors(t *testing.T) {
	s := storage.NewStorageService(nil, newHookedRedis(t, &failingHook{}))
	ctx := context.Background()

	assert.ErrorContains(t, s.MarkOnline(ctx, models.RoleAdmin, "a1"), "connection refused")
	assert.ErrorContains(t, s.MarkOffline(ctx, models.RoleAdmin, "a1"), "connection refused")
	_, err := s.OnlineCount(ctx, models.RoleAdmin)
	assert.ErrorContains(t, err, "connection refused")
}
