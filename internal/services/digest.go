package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"task-tracker/internal/config"
	"task-tracker/internal/mailer"
	"task-tracker/internal/models"
	"task-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

var ErrReportNotFound = errors.New("report not found")

var digestTemplate = template.Must(template.New("digest").Parse(`Hi {{.Name}},

Here is where your open tasks stand today:
{{range .Lines}}
  {{printf "%-12s" .Status}} {{.Count}}
{{- else}}
  You have no open tasks.
{{- end}}

Open tasks: {{.Total}}
`))

type DigestLine struct {
	Status models.TaskStatus
	Count  int64
}

type DigestSummary struct {
	Name  string
	Email string
	Lines []DigestLine
	Total int64
}

type ReportSettings struct {
	TimeOfDay *string `json:"time"`
	Disabled  *bool   `json:"disabled"`
}

// DigestService builds and mails the daily status report.
type DigestService struct {
	tasks   repositories.TaskRepository
	reports repositories.ReportRepository
	mailer  mailer.Mailer
	from    string
	subject string
	now     func() time.Time
}

func NewDigestService(tasks repositories.TaskRepository, reports repositories.ReportRepository, m mailer.Mailer, cfg config.DigestConfig) *DigestService {
	return &DigestService{
		tasks:   tasks,
		reports: reports,
		mailer:  m,
		from:    cfg.From,
		subject: cfg.Subject,
		now:     time.Now,
	}
}

// Summarize counts the user's open tasks per status.
func (s *DigestService) Summarize(ctx context.Context, user *models.User) (*DigestSummary, error) {
	counts, err := s.tasks.CountByStatus(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	summary := &DigestSummary{Name: user.DisplayName(), Email: user.Email}
	for _, status := range models.TaskStatuses {
		if n := counts[status]; n > 0 {
			summary.Lines = append(summary.Lines, DigestLine{Status: status, Count: n})
			summary.Total += n
		}
	}
	return summary, nil
}

func (s *DigestService) Render(summary *DigestSummary) (string, error) {
	var b strings.Builder
	if err := digestTemplate.Execute(&b, summary); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return b.String(), nil
}

// DueReports returns the reports whose digest should go out now.
func (s *DigestService) DueReports(ctx context.Context) ([]models.Report, error) {
	now := s.now()
	candidates, err := s.reports.Due(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	due := candidates[:0]
	for _, report := range candidates {
		if report.IsDue(now) {
			due = append(due, report)
		}
	}
	return due, nil
}

// SendReport mails one digest and stamps the report. A report that is no
// longer due is skipped, so a job delivered twice sends one mail.
func (s *DigestService) SendReport(ctx context.Context, reportID uuid.UUID) error {
	report, err := s.reports.FindByID(ctx, reportID)
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("report %s: %w", reportID, ErrReportNotFound)
	}
	if err != nil {
		return err
	}

	now := s.now()
	if !report.IsDue(now) {
		log.Printf("Report %s is not due, skipping", reportID)
		return nil
	}
	if report.User == nil {
		return fmt.Errorf("report %s has no user", reportID)
	}

	summary, err := s.Summarize(ctx, report.User)
	if err != nil {
		return err
	}
	body, err := s.Render(summary)
	if err != nil {
		return err
	}

	msg := mailer.Message{
		From:    s.from,
		To:      []string{report.User.Email},
		Subject: s.subject,
		Body:    body,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}

	if err := s.reports.MarkSent(ctx, report.ID, report.NextStamp(now)); err != nil {
		return err
	}
	log.Printf("Digest sent to %s (%d open tasks)", report.User.Email, summary.Total)
	return nil
}

// GetSettings returns the user's report settings, or disabled defaults when
// none were saved yet.
func (s *DigestService) GetSettings(ctx context.Context, userID uuid.UUID) (*models.Report, error) {
	report, err := s.reports.FindByUser(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return &models.Report{UserID: userID, Disabled: true}, nil
	}
	return report, err
}

func (s *DigestService) UpdateSettings(ctx context.Context, userID uuid.UUID, settings ReportSettings) (*models.Report, error) {
	report, err := s.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if settings.TimeOfDay != nil {
		value := strings.TrimSpace(*settings.TimeOfDay)
		if _, _, err := models.ParseTimeOfDay(value); err != nil {
			return nil, newValidationError("time", "must be HH:MM")
		}
		report.TimeOfDay = value
	}
	if settings.Disabled != nil {
		report.Disabled = *settings.Disabled
	}
	if !report.Disabled && report.TimeOfDay == "" {
		return nil, newValidationError("time", "is required to enable the report")
	}

	if err := s.reports.Upsert(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}
