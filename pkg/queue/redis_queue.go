package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storybookai/internal/util"
	"storybookai/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one queued book generation.
type Job struct {
	ID           string                 `json:"id"`
	Request      domain.GenerateRequest `json:"request"`
	Owner        string                 `json:"owner,omitempty"`
	BookID       int64                  `json:"bookId,omitempty"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Attempts     int                    `json:"attempts"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Handler processes a job. A nil error acks it; an error requeues it until
// the retry budget is spent.
type Handler func(context.Context, Job) error

// Stream tuning.
const (
	jobTTL       = 24 * time.Hour
	streamMaxLen = 10000
	batchSize    = 10
	claimIdle    = 30 * time.Second
)

// RedisJobQueue keeps one hash per job for status and a stream of job ids
// read by a consumer group.
type RedisJobQueue struct {
	client       *redis.Client
	logger       *slog.Logger
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	retryDelay   time.Duration
	once         sync.Once
	wg           sync.WaitGroup
}

type RedisQueueConfig struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	Consumer string
	// MaxRetries is the number of attempts before a job fails, 3 when unset.
	MaxRetries int
	Block      time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return NewRedisJobQueueFromClient(redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}), cfg)
}

// NewRedisJobQueueFromClient uses an existing client; cfg.Addr is ignored.
func NewRedisJobQueueFromClient(client *redis.Client, cfg RedisQueueConfig) (*RedisJobQueue, error) {
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	q := &RedisJobQueue{
		client:       client,
		logger:       cfg.Logger,
		stream:       stream,
		group:        strings.TrimSpace(cfg.Group),
		consumerBase: strings.TrimSpace(cfg.Consumer),
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		retryDelay:   cfg.RetryDelay,
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.group == "" {
		q.group = "default"
	}
	if q.consumerBase == "" {
		q.consumerBase = util.NewID()
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	return q, nil
}

// Enqueue stores the job status and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, owner string, req domain.GenerateRequest) (Job, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Job{}, domain.ErrNameRequired
	}
	now := time.Now().UTC()
	job := Job{
		ID:        util.NewID(),
		Request:   req,
		Owner:     strings.TrimSpace(owner),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID},
	}).Err(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	job, err := decodeJob(jobID, data)
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// SetBookID records the server book id once the job was submitted, so a
// retried job resumes polling instead of generating a second book.
func (q *RedisJobQueue) SetBookID(ctx context.Context, jobID string, bookID int64) error {
	return q.client.HSet(ctx, q.jobKey(jobID), "bookId", strconv.FormatInt(bookID, 10)).Err()
}

// Start launches concurrency consumers. Wait blocks until they exit after ctx is done.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
}

func (q *RedisJobQueue) Wait() {
	q.wg.Wait()
}

func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.logger.Warn("queue_group_create_failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    batchSize,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("queue_read_failed", "consumer", consumer, "err", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  claimIdle,
		Start:    "0-0",
		Count:    batchSize,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID)
	if err != nil {
		q.logger.Warn("queue_job_unreadable", "job_id", jobID, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger := q.logger.With("job_id", jobID, "attempt", job.Attempts)
	err = handler(ctx, job)
	if err == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if ctx.Err() != nil {
		// shutting down; leave the message pending for the next claim
		return
	}
	var perm *permanentError
	if job.Attempts >= q.maxRetries || errors.As(err, &perm) {
		logger.Error("queue_job_failed", "err", err)
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("queue_job_retry", "err", err)
	_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	if err := q.requeueAndAck(ctx, msg.ID, jobID); err != nil {
		logger.Warn("queue_requeue_failed", "err", err)
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID string) (Job, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fmt.Errorf("job %s: status expired", jobID)
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// setStatus touches only the status fields, so a book id recorded by the
// handler in the meantime is kept.
func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	return q.client.HSet(ctx, q.jobKey(jobID),
		"status", status,
		"error", errMsg,
		"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":        job.ID,
		"request":   string(req),
		"owner":     job.Owner,
		"bookId":    strconv.FormatInt(job.BookID, 10),
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) (Job, error) {
	job := Job{
		ID:           jobID,
		Owner:        data["owner"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["request"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.Request); err != nil {
			return Job{}, fmt.Errorf("decode request: %w", err)
		}
	}
	if v := data["bookId"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.BookID = n
		}
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job, nil
}
