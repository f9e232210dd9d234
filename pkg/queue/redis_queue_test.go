package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storybookai/internal/util"
	"storybookai/pkg/domain"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	if got := streams[0].Messages[0].Values["job_id"]; got != jobID {
		t.Fatalf("unexpected requeued payload: %v", got)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
}

func TestEnqueueRequiresName(t *testing.T) {
	q := newTestQueue(t, 3)
	if _, err := q.Enqueue(context.Background(), "ana", domain.GenerateRequest{Name: " "}); !errors.Is(err, domain.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestConsumerProcessesJob(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "ana", domain.GenerateRequest{Name: "Mira", Theme: "Space Explorer", Age: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got := make(chan Job, 1)
	q.Start(ctx, 1, func(ctx context.Context, j Job) error {
		if err := q.SetBookID(ctx, j.ID, 42); err != nil {
			return err
		}
		got <- j
		return nil
	})

	select {
	case j := <-got:
		if j.ID != job.ID || j.Request.Name != "Mira" || j.Owner != "ana" || j.Attempts != 1 {
			t.Fatalf("unexpected job: %+v", j)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job was not consumed")
	}

	status := waitForStatus(t, q, job.ID, StatusDone)
	if status.BookID != 42 {
		t.Fatalf("book id = %d, want 42", status.BookID)
	}
	cancel()
	q.Wait()
}

func TestRetriedJobSeesRecordedBookID(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "", domain.GenerateRequest{Name: "Leo"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	seen := make(chan int64, 1)
	q.Start(ctx, 1, func(ctx context.Context, j Job) error {
		if j.Attempts == 1 {
			if err := q.SetBookID(ctx, j.ID, 7); err != nil {
				return err
			}
			return errors.New("generation timed out")
		}
		seen <- j.BookID
		return nil
	})

	select {
	case id := <-seen:
		if id != 7 {
			t.Fatalf("retry saw book id %d, want 7", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job was not retried")
	}
	waitForStatus(t, q, job.ID, StatusDone)
	cancel()
	q.Wait()
}

func TestConsumerFailsAfterRetries(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "", domain.GenerateRequest{Name: "Leo"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start(ctx, 1, func(context.Context, Job) error {
		return errors.New("generation rejected")
	})

	status := waitForStatus(t, q, job.ID, StatusFailed)
	if status.Attempts != 2 || status.ErrorMessage != "generation rejected" {
		t.Fatalf("unexpected final status: %+v", status)
	}
	cancel()
	q.Wait()
}

func TestConsumerPermanentErrorFailsImmediately(t *testing.T) {
	q := newTestQueue(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "", domain.GenerateRequest{Name: "Leo"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start(ctx, 1, func(context.Context, Job) error {
		return Permanent(domain.ErrOptionLocked)
	})

	status := waitForStatus(t, q, job.ID, StatusFailed)
	if status.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", status.Attempts)
	}
	cancel()
	q.Wait()
}

func waitForStatus(t *testing.T, q *RedisJobQueue, jobID, want string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return Job{}
}

func newTestQueue(t *testing.T, maxRetries int) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		MaxRetries: maxRetries,
		Block:      50 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Logger:     util.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string) {
	t.Helper()

	q := newTestQueue(t, 3)
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "ana", domain.GenerateRequest{Name: "Mira"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job.ID
}
