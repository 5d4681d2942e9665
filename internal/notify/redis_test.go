package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublisher_MessageBurned(t *testing.T) {
	t.Parallel()
	f := &fakeRedis{}
	p := &RedisPublisher{rdb: f}

	ev := BurnEvent{
		ConversationID: uuid.Must(uuid.NewV4()),
		MessageID:      uuid.Must(uuid.NewV4()),
		BurnedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.MessageBurned(context.Background(), ev))
	require.Equal(t, "burns."+ev.ConversationID.String(), f.channel)

	var got BurnEvent
	require.NoError(t, json.Unmarshal(f.payload, &got))
	require.Equal(t, ev.MessageID, got.MessageID)
}

func TestRedisPublisher_PublishError(t *testing.T) {
	t.Parallel()
	f := &fakeRedis{err: errors.New("connection refused")}
	p := &RedisPublisher{rdb: f}

	err := p.MessageBurned(context.Background(), BurnEvent{ConversationID: uuid.Must(uuid.NewV4())})
	require.Error(t, err)
	require.Contains(t, err.Error(), "publish burn event")
}
