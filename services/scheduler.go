package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fulfillment-service/locks"
	"fulfillment-service/models"
	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RunReport summarises one scheduler pass over a sequence.
type RunReport struct {
	Sequence   string `json:"sequence"`
	Considered int    `json:"considered"`
	Sent       int    `json:"sent"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

type EnrollRequest struct {
	Email         string
	Sequence      string
	ArtifactID    string
	EnrolledAt    time.Time
	SendFirstStep bool
}

type SchedulerService struct {
	recipients repository.RecipientRepository
	notifier   *Notifier
	sequences  map[string]Sequence
	limiter    *rate.Limiter
	lock       locks.RunLock
	lockTTL    time.Duration
	batchSize  int
	now        func() time.Time
	metrics    MetricsRecorder
	logger     *zap.Logger
}

type SchedulerOption func(*SchedulerService)

// WithSendInterval sets the minimum delay between two sends within a run.
func WithSendInterval(d time.Duration) SchedulerOption {
	return func(s *SchedulerService) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithRunLock(l locks.RunLock, ttl time.Duration) SchedulerOption {
	return func(s *SchedulerService) {
		s.lock = l
		s.lockTTL = ttl
	}
}

func WithBatchSize(n int) SchedulerOption {
	return func(s *SchedulerService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *SchedulerService) { s.now = now }
}

func WithSequences(seqs map[string]Sequence) SchedulerOption {
	return func(s *SchedulerService) { s.sequences = seqs }
}

func WithSchedulerMetrics(m MetricsRecorder) SchedulerOption {
	return func(s *SchedulerService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewSchedulerService(recipients repository.RecipientRepository, notifier *Notifier, logger *zap.Logger, opts ...SchedulerOption) *SchedulerService {
	s := &SchedulerService{
		recipients: recipients,
		notifier:   notifier,
		sequences:  DefaultSequences(),
		limiter:    rate.NewLimiter(rate.Every(600*time.Millisecond), 1),
		lock:       locks.NoopLock{},
		lockTTL:    10 * time.Minute,
		batchSize:  500,
		now:        time.Now,
		metrics:    nopMetrics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SchedulerService) SequenceNames() []string {
	names := make([]string, 0, len(s.sequences))
	for name := range s.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run sends at most one step to every due recipient of the sequence. The cohort
// is walked page by page so recipients waiting between steps never hide newer ones.
// A recipient's failure is logged and counted; the run continues.
func (s *SchedulerService) Run(ctx context.Context, sequenceName string) (RunReport, error) {
	report := RunReport{Sequence: sequenceName}
	seq, ok := s.sequences[sequenceName]
	if !ok {
		return report, fmt.Errorf("%w: %s (known: %s)", ErrUnknownSequence, sequenceName, strings.Join(s.SequenceNames(), ", "))
	}

	release, err := s.lock.Acquire(ctx, "scheduler:"+sequenceName, s.lockTTL)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return report, ErrRunInProgress
		}
		return report, err
	}
	defer release()

	now := s.now()
	thresholds := seq.Thresholds()
	var cursor repository.DueCursor
	for {
		page, err := s.recipients.ListDue(ctx, sequenceName, len(thresholds), now, cursor, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("list recipients: %w", err)
		}
		for i := range page {
			if err := s.visit(ctx, sequenceName, seq, &page[i], now, thresholds, &report); err != nil {
				return report, err
			}
		}
		if len(page) == 0 || len(page) < s.batchSize {
			break
		}
		cursor = cursor.After(page[len(page)-1])
	}

	s.logger.Info("scheduler run finished",
		zap.String("sequence", sequenceName),
		zap.Int("considered", report.Considered),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// RunAll runs every configured sequence; one sequence's error does not stop the others.
func (s *SchedulerService) RunAll(ctx context.Context) ([]RunReport, error) {
	var reports []RunReport
	var errs []error
	for _, name := range s.SequenceNames() {
		r, err := s.Run(ctx, name)
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return reports, errors.Join(errs...)
}

// visit sends the recipient's next step when one is due. Only a cancelled
// context is returned; delivery failures are counted in the report.
func (s *SchedulerService) visit(ctx context.Context, sequenceName string, seq Sequence, rec *models.Recipient, now time.Time, thresholds []time.Duration, report *RunReport) error {
	report.Considered++
	if rec.HasConverted {
		report.Skipped++
		return nil
	}
	step, ok := NextStep(now.Sub(rec.EnrolledAt), rec.LastStepSent, thresholds)
	if !ok {
		report.Skipped++
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := s.deliver(ctx, seq, rec, step); err != nil {
		report.Failed++
		_ = s.metrics.RecordCount(ctx, awspkg.MetricDripEmailsFailed, map[string]string{"Sequence": sequenceName})
		s.logger.Warn("drip step failed",
			zap.String("sequence", sequenceName),
			zap.String("recipient_id", rec.ID),
			zap.Int("step", step),
			zap.Error(err),
		)
		return nil
	}
	report.Sent++
	_ = s.metrics.RecordCount(ctx, awspkg.MetricDripEmailsSent, map[string]string{"Sequence": sequenceName})
	return nil
}

// deliver sends the step and only then advances last_step_sent.
func (s *SchedulerService) deliver(ctx context.Context, seq Sequence, rec *models.Recipient, step int) error {
	st := seq.Steps[step-1]
	res, err := s.notifier.Send(ctx, rec.Email, st.Subject, TemplateDripStep, map[string]interface{}{
		"Headline":   st.Headline,
		"Body":       st.Body,
		"CTALabel":   st.CTALabel,
		"CTAPath":    st.CTAPath,
		"ArtifactID": rec.ArtifactID,
		"Email":      rec.Email,
		"Step":       step,
	})
	if err != nil {
		return err
	}

	sentAt := res.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	advanced, err := s.recipients.AdvanceStep(ctx, rec.ID, rec.LastStepSent, step, sentAt)
	if err != nil {
		return fmt.Errorf("email sent but step not recorded: %w", err)
	}
	if !advanced {
		s.logger.Warn("recipient advanced by another runner",
			zap.String("recipient_id", rec.ID),
			zap.Int("from", rec.LastStepSent),
			zap.Int("to", step),
		)
	}
	rec.LastStepSent = step
	return nil
}

// Enroll adds the email to a sequence. Enrolling twice is a no-op. With SendFirstStep the
// first step goes out immediately instead of waiting for the next run.
func (s *SchedulerService) Enroll(ctx context.Context, req EnrollRequest) (*models.Recipient, error) {
	seq, ok := s.sequences[req.Sequence]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSequence, req.Sequence)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, ErrMissingEmail
	}
	enrolledAt := req.EnrolledAt
	if enrolledAt.IsZero() {
		enrolledAt = s.now()
	}

	rec, created, err := s.recipients.Enroll(ctx, &models.Recipient{
		ID:         uuid.NewString(),
		Email:      email,
		Sequence:   req.Sequence,
		ArtifactID: req.ArtifactID,
		EnrolledAt: enrolledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("enroll recipient: %w", err)
	}
	if created {
		_ = s.metrics.RecordCount(ctx, awspkg.MetricLeadsEnrolled, map[string]string{"Sequence": req.Sequence})
	}

	if req.SendFirstStep && !rec.HasConverted && rec.LastStepSent == 0 {
		if step, ok := NextStep(s.now().Sub(rec.EnrolledAt), 0, seq.Thresholds()); ok {
			if err := s.deliver(ctx, seq, rec, step); err != nil {
				// the periodic run picks it up
				s.logger.Warn("first drip step failed on enrollment",
					zap.String("recipient_id", rec.ID),
					zap.Error(err),
				)
			}
		}
	}
	return rec, nil
}

// MarkConverted stops future sends to the email. An empty sequence stops all of them.
func (s *SchedulerService) MarkConverted(ctx context.Context, email, sequence string) (int64, error) {
	if sequence != "" {
		if _, ok := s.sequences[sequence]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownSequence, sequence)
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0, ErrMissingEmail
	}
	return s.recipients.MarkConverted(ctx, email, sequence, s.now())
}
