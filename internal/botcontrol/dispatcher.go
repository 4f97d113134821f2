package botcontrol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultChannelPrefix is prepended to the user id to form the control channel
const DefaultChannelPrefix = "bot:control:"

// Publisher is the pub/sub surface of the Redis cache service
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisDispatcher publishes commands as JSON on a per-principal channel the
// bot process subscribes to
type RedisDispatcher struct {
	publisher Publisher
	prefix    string
}

// NewRedisDispatcher creates a dispatcher; an empty prefix uses DefaultChannelPrefix
func NewRedisDispatcher(publisher Publisher, prefix string) *RedisDispatcher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisDispatcher{publisher: publisher, prefix: prefix}
}

// Channel returns the control channel of a principal
func (d *RedisDispatcher) Channel(userID string) string {
	return d.prefix + userID
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	if err := d.publisher.Publish(ctx, d.Channel(cmd.UserID), payload); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}
	return nil
}

// LogDispatcher only logs commands. It serves deployments without Redis where
// the bot polls its status record instead of listening on a channel.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "BotDispatcher").Logger()}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, cmd Command) error {
	d.logger.Info().
		Str("user_id", cmd.UserID).
		Str("command", string(cmd.Type)).
		Str("reason", cmd.Reason).
		Msg("Bot command issued")
	return nil
}
