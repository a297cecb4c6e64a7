package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"task-tracker/internal/models"

	"github.com/redis/go-redis/v9"
)

type DueReportSource interface {
	DueReports(ctx context.Context) ([]models.Report, error)
}

// Scheduler periodically queues a digest job for every report that is due.
// A report is queued at most once per day, so a slow worker does not pile
// up duplicates between ticks.
type Scheduler struct {
	client   *redis.Client
	source   DueReportSource
	queue    *JobQueue
	name     string
	interval time.Duration
	now      func() time.Time
}

func NewScheduler(client *redis.Client, source DueReportSource, queue string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		client:   client,
		source:   source,
		queue:    NewJobQueue(client),
		name:     queue,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Digest scheduler started (queue=%s, interval=%s)", s.name, s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Tick(ctx); err != nil {
			log.Printf("Digest scheduler tick failed: %v", err)
		} else if n > 0 {
			log.Printf("Queued %d digest jobs", n)
		}

		select {
		case <-ctx.Done():
			log.Println("Digest scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick queues the currently due reports and returns how many were queued.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	reports, err := s.source.DueReports(ctx)
	if err != nil {
		return 0, err
	}

	day := s.now().UTC().Format("2006-01-02")
	queued := 0
	for _, report := range reports {
		key := fmt.Sprintf("digest:queued:%s:%s", report.ID, day)
		fresh, err := s.client.SetNX(ctx, key, 1, 24*time.Hour).Result()
		if err != nil {
			return queued, fmt.Errorf("mark report %s queued: %w", report.ID, err)
		}
		if !fresh {
			continue
		}

		payload := map[string]string{"report_id": report.ID.String()}
		if _, err := s.queue.Enqueue(ctx, s.name, JobTypeDailyDigest, payload); err != nil {
			s.client.Del(ctx, key)
			return queued, err
		}
		queued++
	}
	return queued, nil
}
