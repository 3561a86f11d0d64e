package usage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/pkg/database"
)

// fakeRedis answers commands from a hook so no server is needed. It
// records the wire arguments of every command.
type fakeRedis struct {
	mu    sync.Mutex
	cmds  [][]any
	reply func(cmd redis.Cmder) error
}

func (f *fakeRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f *fakeRedis) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		return f.handle(cmd)
	}
}

func (f *fakeRedis) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if err := f.handle(cmd); err != nil {
				cmd.SetErr(err)
				return err
			}
		}
		return nil
	}
}

func (f *fakeRedis) handle(cmd redis.Cmder) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd.Args())
	f.mu.Unlock()
	if f.reply == nil {
		return nil
	}
	return f.reply(cmd)
}

func newTestService(t *testing.T, reply func(cmd redis.Cmder) error) (*Service, *fakeRedis) {
	t.Helper()
	fake := &fakeRedis{reply: reply}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(fake)
	t.Cleanup(func() { _ = client.Close() })
	return NewService(client), fake
}

func TestTopQueriesHighestScoresFirst(t *testing.T) {
	svc, fake := newTestService(t, func(cmd redis.Cmder) error {
		cmd.(*redis.ZSliceCmd).SetVal([]redis.Z{
			{Member: "pog", Score: 12},
			{Member: "kappa", Score: 3},
		})
		return nil
	})

	top, err := svc.Top(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []models.UsageCount{{Name: "pog", Uses: 12}, {Name: "kappa", Uses: 3}}, top)

	// ZRANGE key max min BYSCORE REV: the bounds go out highest first and
	// names without a use are excluded
	require.Len(t, fake.cmds, 1)
	assert.Equal(t, []any{
		"zrange", database.KeyUsageLedger, "+inf", "(0",
		"byscore", "rev", "limit", int64(0), int64(3), "withscores",
	}, fake.cmds[0])
}

func TestTopNonPositive(t *testing.T) {
	svc, fake := newTestService(t, nil)

	top, err := svc.Top(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, top)
	assert.Empty(t, fake.cmds)
}

func TestTopError(t *testing.T) {
	down := errors.New("connection refused")
	svc, _ := newTestService(t, func(redis.Cmder) error { return down })

	_, err := svc.Top(context.Background(), 5)
	assert.ErrorIs(t, err, down)
}

func TestIncrementPipelinesOnePerName(t *testing.T) {
	svc, fake := newTestService(t, func(cmd redis.Cmder) error {
		cmd.(*redis.FloatCmd).SetVal(1)
		return nil
	})

	require.NoError(t, svc.Increment(context.Background(), []string{"duck", "duckling"}))
	assert.Equal(t, [][]any{
		{"zincrby", database.KeyUsageLedger, float64(1), "duck"},
		{"zincrby", database.KeyUsageLedger, float64(1), "duckling"},
	}, fake.cmds)

	require.NoError(t, svc.Increment(context.Background(), nil))
	assert.Len(t, fake.cmds, 2)
}

func TestGet(t *testing.T) {
	scores := map[string]float64{"pog": 7}
	svc, _ := newTestService(t, func(cmd redis.Cmder) error {
		member := cmd.Args()[2].(string)
		score, ok := scores[member]
		if !ok {
			return redis.Nil
		}
		cmd.(*redis.FloatCmd).SetVal(score)
		return nil
	})

	uses, err := svc.Get(context.Background(), "pog")
	require.NoError(t, err)
	assert.Equal(t, int64(7), uses)

	uses, err = svc.Get(context.Background(), "never")
	require.NoError(t, err)
	assert.Zero(t, uses)
}
