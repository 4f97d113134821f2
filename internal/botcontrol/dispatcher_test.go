package botcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	p.channel = channel
	p.payload = payload
	return p.err
}

func TestRedisDispatcher_PublishesJSONOnUserChannel(t *testing.T) {
	pub := &fakePublisher{}
	d := NewRedisDispatcher(pub, "")
	issued := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	err := d.Dispatch(context.Background(), Command{
		Type:     CommandStart,
		UserID:   "u1",
		Settings: &StartSettings{Task: "searching", Keywords: []string{"golang"}},
		IssuedAt: issued,
	})
	require.NoError(t, err)
	assert.Equal(t, "bot:control:u1", pub.channel)

	var got Command
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, CommandStart, got.Type)
	require.NotNil(t, got.Settings)
	assert.Equal(t, []string{"golang"}, got.Settings.Keywords)
	assert.True(t, got.IssuedAt.Equal(issued))
}

func TestRedisDispatcher_WrapsPublishError(t *testing.T) {
	outage := errors.New("circuit open")
	d := NewRedisDispatcher(&fakePublisher{err: outage}, "ctl:")

	err := d.Dispatch(context.Background(), Command{Type: CommandStop, UserID: "u1"})
	assert.ErrorIs(t, err, outage)
	assert.Equal(t, "ctl:u1", d.Channel("u1"))
}

func TestLogDispatcher_NeverFails(t *testing.T) {
	d := NewLogDispatcher(zerolog.Nop())
	assert.NoError(t, d.Dispatch(context.Background(), Command{Type: CommandEmergencyStop, UserID: "u1"}))
}
