package services

import (
	"context"
	"testing"
	"time"

	"fulfillment-service/locks"
	"fulfillment-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type schedulerFixture struct {
	svc        *SchedulerService
	recipients *memRecipients
	emails     *fakeSender
	clock      *fakeClock
}

func newSchedulerFixture(t *testing.T, opts ...SchedulerOption) *schedulerFixture {
	t.Helper()
	emails := newFakeSender()
	notifier, err := NewNotifier(emails, "https://portraits.example.com/", zap.NewNop())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	recipients := newMemRecipients()
	base := []SchedulerOption{WithSendInterval(0), WithClock(clock.Now)}
	svc := NewSchedulerService(recipients, notifier, zap.NewNop(), append(base, opts...)...)
	return &schedulerFixture{svc: svc, recipients: recipients, emails: emails, clock: clock}
}

func TestScheduler_SendsOneStepPerRunAsThresholdsPass(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	enrolled := f.clock.Now()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "Ada@Example.com", Sequence: models.SequencePrintUpsell, ArtifactID: "art_1", EnrolledAt: enrolled})
	require.NoError(t, err)

	f.clock.Set(enrolled.Add(time.Hour))
	report, err := f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, f.recipients.get("ada@example.com", models.SequencePrintUpsell).LastStepSent)

	// a second run at the same instant sends nothing
	report, err = f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Skipped)

	f.clock.Set(enrolled.Add(25 * time.Hour))
	report, err = f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, f.recipients.get("ada@example.com", models.SequencePrintUpsell).LastStepSent)

	f.clock.Set(enrolled.Add(80 * time.Hour))
	_, err = f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)
	assert.Equal(t, 3, f.recipients.get("ada@example.com", models.SequencePrintUpsell).LastStepSent)

	sent := f.emails.sentTo("ada@example.com")
	require.Len(t, sent, 3)
	assert.Equal(t, "See your portrait on canvas", sent[0].Subject)
	assert.Equal(t, "Sizes that fit any room", sent[1].Subject)
	assert.Equal(t, "Made to last", sent[2].Subject)
	assert.Contains(t, sent[0].Body, "https://portraits.example.com/prints")
}

func TestScheduler_LateRunSendsOnlyNextStep(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	enrolled := f.clock.Now()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "late@example.com", Sequence: models.SequencePrintUpsell, EnrolledAt: enrolled})
	require.NoError(t, err)

	f.clock.Set(enrolled.Add(40 * 24 * time.Hour))
	_, err = f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)

	assert.Len(t, f.emails.sentTo("late@example.com"), 1)
	assert.Equal(t, 1, f.recipients.get("late@example.com", models.SequencePrintUpsell).LastStepSent)
}

func TestScheduler_WaitingRecipientsDoNotHideNewerOnes(t *testing.T) {
	f := newSchedulerFixture(t, WithBatchSize(2))
	ctx := context.Background()
	now := f.clock.Now()

	for _, email := range []string{"old1@example.com", "old2@example.com"} {
		_, err := f.svc.Enroll(ctx, EnrollRequest{Email: email, Sequence: models.SequencePrintUpsell, EnrolledAt: now.Add(-10 * 24 * time.Hour)})
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := f.svc.Run(ctx, models.SequencePrintUpsell)
		require.NoError(t, err)
	}
	require.Equal(t, 4, f.recipients.get("old1@example.com", models.SequencePrintUpsell).LastStepSent)
	require.Equal(t, 4, f.recipients.get("old2@example.com", models.SequencePrintUpsell).LastStepSent)

	// both older recipients now wait for the 21 day step and fill a whole page
	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "new@example.com", Sequence: models.SequencePrintUpsell, EnrolledAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	report, err := f.svc.Run(ctx, models.SequencePrintUpsell)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Sequence: models.SequencePrintUpsell, Considered: 3, Sent: 1, Skipped: 2}, report)
	assert.Equal(t, 1, f.recipients.get("new@example.com", models.SequencePrintUpsell).LastStepSent)
	assert.Len(t, f.emails.sentTo("new@example.com"), 1)
}

func TestScheduler_ConvertedRecipientsAreNotSent(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	enrolled := f.clock.Now()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "buyer@example.com", Sequence: models.SequenceLeadNurture, EnrolledAt: enrolled})
	require.NoError(t, err)
	n, err := f.svc.MarkConverted(ctx, "BUYER@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	f.clock.Set(enrolled.Add(48 * time.Hour))
	report, err := f.svc.Run(ctx, models.SequenceLeadNurture)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Considered)
	assert.Empty(t, f.emails.sentTo("buyer@example.com"))
}

func TestScheduler_OneFailureDoesNotStopTheRun(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	enrolled := f.clock.Now()

	for _, email := range []string{"a@example.com", "bounce@example.com", "c@example.com"} {
		_, err := f.svc.Enroll(ctx, EnrollRequest{Email: email, Sequence: models.SequenceLeadNurture, EnrolledAt: enrolled})
		require.NoError(t, err)
	}
	f.emails.failTo["bounce@example.com"] = true

	f.clock.Set(enrolled.Add(time.Minute))
	report, err := f.svc.Run(ctx, models.SequenceLeadNurture)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Considered)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)

	// the failed recipient keeps its step and is retried next run
	assert.Equal(t, 0, f.recipients.get("bounce@example.com", models.SequenceLeadNurture).LastStepSent)
	delete(f.emails.failTo, "bounce@example.com")
	report, err = f.svc.Run(ctx, models.SequenceLeadNurture)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}

func TestScheduler_EnrollWithFirstStep(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Enroll(ctx, EnrollRequest{Email: "lead@example.com", Sequence: models.SequenceLeadNurture, SendFirstStep: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.LastStepSent)
	assert.Len(t, f.emails.sentTo("lead@example.com"), 1)

	// enrolling again neither duplicates the row nor resends
	_, err = f.svc.Enroll(ctx, EnrollRequest{Email: "lead@example.com", Sequence: models.SequenceLeadNurture, SendFirstStep: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.recipients.count())
	assert.Len(t, f.emails.sentTo("lead@example.com"), 1)
}

func TestScheduler_EnrollValidation(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "x@example.com", Sequence: "winback"})
	assert.ErrorIs(t, err, ErrUnknownSequence)

	_, err = f.svc.Enroll(ctx, EnrollRequest{Email: "  ", Sequence: models.SequenceLeadNurture})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestScheduler_UnknownSequence(t *testing.T) {
	f := newSchedulerFixture(t)
	_, err := f.svc.Run(context.Background(), "winback")
	assert.ErrorIs(t, err, ErrUnknownSequence)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, locks.ErrNotAcquired
}

func TestScheduler_ConcurrentRunIsRejected(t *testing.T) {
	f := newSchedulerFixture(t, WithRunLock(heldLock{}, time.Minute))
	_, err := f.svc.Run(context.Background(), models.SequencePrintUpsell)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestScheduler_RunAllCoversEverySequence(t *testing.T) {
	f := newSchedulerFixture(t)
	reports, err := f.svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, len(DefaultSequences()))
}

func TestScheduler_CustomSequence(t *testing.T) {
	winback := Sequence{Name: "winback", Steps: []SequenceStep{
		{After: 2 * time.Hour, Subject: "We miss you"},
	}}
	f := newSchedulerFixture(t, WithSequences(map[string]Sequence{"winback": winback}))
	ctx := context.Background()
	enrolled := f.clock.Now()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Email: "old@example.com", Sequence: "winback", EnrolledAt: enrolled, SendFirstStep: true})
	require.NoError(t, err)
	assert.Empty(t, f.emails.sentTo("old@example.com"))

	f.clock.Set(enrolled.Add(3 * time.Hour))
	report, err := f.svc.Run(ctx, "winback")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{"winback"}, f.svc.SequenceNames())
}
