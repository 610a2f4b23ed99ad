package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "backup"})

	if err := q.requeueAndAck(ctx, msg.ID, job.ID, job.Kind); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	got := readOne(t, q, ctx, "consumer-2")
	if got.Values["job_id"] != job.ID || got.Values["kind"] != "backup" {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "backup"})

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msg.ID, job.ID, job.Kind); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestEnqueueStoresPayload(t *testing.T) {
	q, ctx, _, job := newPendingQueueMessage(t, EnqueueRequest{
		Kind:    "export",
		Payload: map[string]string{"format": "csv", "chat_id": "42"},
	})
	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Kind != "export" || got.Payload["format"] != "csv" || got.Payload["chat_id"] != "42" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.Status != StatusQueued || got.MaxAttempts != 3 {
		t.Fatalf("expected queued job with default attempts, got %+v", got)
	}
	if _, err := q.Enqueue(ctx, EnqueueRequest{Kind: " "}); err == nil {
		t.Fatalf("expected empty kind to fail")
	}
}

func TestHandleMessageSuccessMarksDone(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "scrape"})

	var seen Job
	q.handleMessage(ctx, msg, func(_ context.Context, j Job) error {
		seen = j
		return nil
	})
	if seen.Attempts != 1 || seen.Kind != "scrape" {
		t.Fatalf("unexpected job passed to handler: %+v", seen)
	}
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusDone {
		t.Fatalf("expected done, got %q", got.Status)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("expected message removed, stream len=%d", n)
	}
}

func TestHandleMessageFinalFailureMarksFailed(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "backup", MaxAttempts: 1})

	q.handleMessage(ctx, msg, func(_ context.Context, j Job) error {
		if !j.Final() {
			t.Fatalf("expected single attempt job to be final")
		}
		return errors.New("pg_dump exited 1")
	})
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != "pg_dump exited 1" {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestHandleMessageRetriesBeforeFinal(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "scrape", MaxAttempts: 2})

	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		return errors.New("upstream 503")
	})
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusQueued || got.Attempts != 1 {
		t.Fatalf("expected requeued job after first failure, got %+v", got)
	}
	retry := readOne(t, q, ctx, "consumer-2")
	if retry.Values["job_id"] != job.ID {
		t.Fatalf("expected retry message for job %s, got %+v", job.ID, retry.Values)
	}
}

func TestHandleMessageRecoversPanic(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t, EnqueueRequest{Kind: "export", MaxAttempts: 1})

	q.handleMessage(ctx, msg, func(context.Context, Job) error {
		panic("boom")
	})
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed after panic, got %q", got.Status)
	}
}

func readOne(t *testing.T, q *RedisJobQueue, ctx context.Context, consumer string) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func newPendingQueueMessage(t *testing.T, req EnqueueRequest) (*RedisJobQueue, context.Context, redis.XMessage, Job) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOne(t, q, ctx, "consumer-1")
	return q, ctx, msg, job
}
