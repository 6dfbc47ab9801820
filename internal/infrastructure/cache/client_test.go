package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
