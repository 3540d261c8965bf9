package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// TopicChannel is the pub/sub channel backing a broker topic.
func TopicChannel(topic string) string {
	return fmt.Sprintf("echopersona:%s", topic)
}

// UserTopic carries per-user notifications (away messages, bot status).
func UserTopic(userID string) string {
	return "user:" + userID
}

// DuelTopic carries winner announcements for one duel.
func DuelTopic(duelID int64) string {
	return fmt.Sprintf("duel:%d", duelID)
}
