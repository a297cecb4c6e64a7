package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"task-tracker/internal/config"
	"task-tracker/internal/database"
	"task-tracker/internal/mailer"
	"task-tracker/internal/models"
	"task-tracker/internal/repositories"
	"task-tracker/internal/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestWorker(t *testing.T, client *redis.Client) *Worker {
	t.Helper()

	w := NewWorker(WorkerConfig{
		RedisClient:  client,
		PollInterval: 100 * time.Millisecond,
		Queues:       []string{"digest", RetryQueue},
		RetryDelay:   time.Nanosecond,
	})
	t.Cleanup(w.cancel)
	return w
}

func TestJobQueue_Enqueue(t *testing.T) {
	client := setupRedis(t)
	queue := NewJobQueue(client)
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, "digest", JobTypeDailyDigest, map[string]string{"report_id": "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxTries)

	size, err := queue.GetQueueSize(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	raw, err := client.LIndex(ctx, "digest", 0).Result()
	require.NoError(t, err)

	var stored Job
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, JobTypeDailyDigest, stored.Type)
	assert.Equal(t, "abc", stored.Payload["report_id"])
}

func TestWorker_ProcessesJob(t *testing.T) {
	client := setupRedis(t)
	w := newTestWorker(t, client)

	var handled atomic.Int32
	w.RegisterHandler(JobTypeDailyDigest, func(ctx context.Context, job *Job) error {
		handled.Add(1)
		assert.Equal(t, "r1", job.Payload["report_id"])
		return nil
	})

	_, err := NewJobQueue(client).Enqueue(context.Background(), "digest", JobTypeDailyDigest, map[string]string{"report_id": "r1"})
	require.NoError(t, err)

	require.NoError(t, w.processNextJob())
	assert.Equal(t, int32(1), handled.Load())
}

func TestWorker_RetriesThenDeadQueue(t *testing.T) {
	client := setupRedis(t)
	w := newTestWorker(t, client)
	ctx := context.Background()

	var attempts atomic.Int32
	w.RegisterHandler(JobTypeDailyDigest, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New("smtp unavailable")
	})

	_, err := NewJobQueue(client).Enqueue(ctx, "digest", JobTypeDailyDigest, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, w.processNextJob())
		if n, _ := client.LLen(ctx, DeadQueue).Result(); n > 0 {
			break
		}
	}

	assert.Equal(t, int32(3), attempts.Load())

	raw, err := client.LIndex(ctx, DeadQueue, 0).Result()
	require.NoError(t, err)

	var dead DeadJob
	require.NoError(t, json.Unmarshal([]byte(raw), &dead))
	assert.Equal(t, "smtp unavailable", dead.Error)
	assert.Equal(t, 3, dead.Job.Attempts)
}

func TestWorker_UnknownJobTypeIsDead(t *testing.T) {
	client := setupRedis(t)
	w := newTestWorker(t, client)
	ctx := context.Background()

	_, err := NewJobQueue(client).Enqueue(ctx, "digest", JobType("mystery"), nil)
	require.NoError(t, err)

	require.NoError(t, w.processNextJob())

	size, err := client.LLen(ctx, DeadQueue).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestWorker_StartStop(t *testing.T) {
	client := setupRedis(t)
	w := newTestWorker(t, client)

	done := make(chan struct{})
	w.RegisterHandler(JobTypeDailyDigest, func(ctx context.Context, job *Job) error {
		close(done)
		return nil
	})
	w.Start(2)

	_, err := NewJobQueue(client).Enqueue(context.Background(), "digest", JobTypeDailyDigest, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}
	w.Stop()
}

type staticSource struct {
	reports []models.Report
	err     error
}

func (s *staticSource) DueReports(ctx context.Context) ([]models.Report, error) {
	return s.reports, s.err
}

func TestScheduler_TickQueuesOncePerDay(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	source := &staticSource{reports: []models.Report{
		{ID: uuid.Must(uuid.NewV4())},
		{ID: uuid.Must(uuid.NewV4())},
	}}

	scheduler := NewScheduler(client, source, "digest", time.Minute)
	scheduler.now = func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) }

	n, err := scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already queued today")

	scheduler.now = func() time.Time { return time.Date(2024, 5, 11, 9, 0, 0, 0, time.UTC) }
	n, err = scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	size, err := client.LLen(ctx, "digest").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestScheduler_TickSourceError(t *testing.T) {
	client := setupRedis(t)
	scheduler := NewScheduler(client, &staticSource{err: errors.New("db down")}, "digest", time.Minute)

	_, err := scheduler.Tick(context.Background())
	assert.Error(t, err)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	client := setupRedis(t)
	scheduler := NewScheduler(client, &staticSource{}, "digest", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestDigestHandler(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	digest := services.NewDigestService(
		repositories.NewTaskRepository(db),
		repositories.NewReportRepository(db),
		mailer.NewLogMailer(),
		config.DigestConfig{From: "tasks@taskmanager.com", Subject: "Daily Status Report"},
	)
	handler := DigestHandler(digest)
	ctx := context.Background()

	err = handler(ctx, &Job{ID: "1", Payload: map[string]string{"report_id": "not-a-uuid"}})
	assert.Error(t, err)

	err = handler(ctx, &Job{ID: "2", Payload: map[string]string{"report_id": uuid.Must(uuid.NewV4()).String()}})
	assert.NoError(t, err, "missing reports are dropped")
}
