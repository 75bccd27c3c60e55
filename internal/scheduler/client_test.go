package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestEnqueueMessageReceivedIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := NewWithRedis(rdb, "automation")
	payload := MessageReceivedPayload{
		MessageID: uuid.NewString(),
		TenantID:  uuid.NewString(),
		Type:      "text",
		Content:   "Bom dia!",
		SentAt:    time.Unix(1700000000, 0).UTC(),
	}

	for i := 0; i < 2; i++ {
		if err := client.EnqueueMessageReceived(context.Background(), payload); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	pending, err := mr.List("asynq:{automation}:pending")
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	if len(pending) != 1 || pending[0] != payload.MessageID {
		t.Fatalf("pending = %v, want one task for %s", pending, payload.MessageID)
	}
}

func TestMessageReceivedTaskRoundTrip(t *testing.T) {
	in := MessageReceivedPayload{MessageID: "m1", Content: "oi", HasMedia: true}
	task, err := NewMessageReceivedTask(in)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskMessageReceived {
		t.Fatalf("task type = %s", task.Type())
	}
	out, err := ParseMessageReceivedPayload(task)
	if err != nil || out.MessageID != "m1" || !out.HasMedia {
		t.Fatalf("parsed %+v err=%v", out, err)
	}
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	if err := c.EnqueueMessageReceived(context.Background(), MessageReceivedPayload{MessageID: "x"}); err != nil {
		t.Fatalf("nil client must be a no-op: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
