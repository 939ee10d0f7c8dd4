package chat

import (
	"context"
	"log/slog"
	"testing"
)

func TestNotifierNoopWhenUnconfigured(t *testing.T) {
	n := NewNotifier("", "", slog.Default())
	if n.IsEnabled() {
		t.Fatal("IsEnabled() true with empty token/channel")
	}
	if err := n.Post(context.Background(), "#general", "hi"); err != nil {
		t.Errorf("Post() on a disabled notifier should be a noop, got error = %v", err)
	}
}
