package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/internal/events"
	"activation_backend/platform/apperr"
	"activation_backend/platform/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now  = time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)
	base = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
)

const (
	rep     = "005REP1"
	account = "001A1"
	alice   = "003C01"
	bob     = "003C02"
)

func testSettings() domain.Settings {
	return domain.Settings{
		InactivityThreshold:   10,
		TrackingPeriod:        5,
		ActivitiesPerContact:  3,
		ContactsPerAccount:    2,
		ActivateByMeeting:     true,
		ActivateByOpportunity: true,
		MeetingObject:         domain.MeetingObjectEvent,
		Criteria: []domain.FilterContainer{
			{
				Name:      "Unique Content",
				Direction: domain.DirectionOutbound,
				Filters: []domain.Filter{
					{Field: "Status", Operator: domain.OpEquals, Value: "Completed", DataType: domain.DataTypeString},
					{Field: "Status", Operator: domain.OpEquals, Value: "Sent", DataType: domain.DataTypeString},
					{Field: "Subject", Operator: domain.OpContains, Value: "unique", DataType: domain.DataTypeString},
				},
				FilterLogic: "((_1_ OR _2_) AND _3_)",
			},
			{
				Name:      "Contains Content",
				Direction: domain.DirectionInbound,
				Filters: []domain.Filter{
					{Field: "Subject", Operator: domain.OpContains, Value: "re:", DataType: domain.DataTypeString},
				},
				FilterLogic: "_1_",
			},
		},
		TeamMemberIDs: []string{rep},
		UserTimezone:  "UTC",
	}
}

func outbound(id, who string, at time.Time) domain.Task {
	return domain.Task{ID: id, WhoID: who, OwnerID: rep, Subject: "Unique content pitch", Status: "Completed", CreatedDate: at}
}

func inbound(id, who string, at time.Time) domain.Task {
	return domain.Task{ID: id, WhoID: who, OwnerID: rep, Subject: "Re: your pitch", Status: "Received", CreatedDate: at}
}

func sixOutbound(prefix string, from time.Time) []domain.Task {
	var tasks []domain.Task
	for k := 0; k < 6; k++ {
		who := alice
		if k%2 == 1 {
			who = bob
		}
		tasks = append(tasks, outbound(fmt.Sprintf("00T%s%d", prefix, k), who, from.Add(time.Duration(k)*time.Hour)))
	}
	return tasks
}

type harness struct {
	crm   *fakeCRM
	store *fakeStore
	arch  *fakeArchiver
	bus   *recordingBus
	svc   *Service
}

func newHarness(settings domain.Settings) *harness {
	h := &harness{
		crm:   newFakeCRM(),
		store: newFakeStore(settings),
		arch:  &fakeArchiver{},
		bus:   &recordingBus{},
	}
	h.crm.accounts = []domain.Account{{ID: account, Name: "Acme", OwnerID: rep}}
	h.crm.contactAccount[alice] = account
	h.crm.contactAccount[bob] = account

	h.svc = New(h.crm, h.store, logger.New("test"))
	h.svc.SetRunRecorder(h.store)
	h.svc.SetArchiver(h.arch)
	h.svc.SetEventBus(h.bus)
	h.svc.SetClock(timeutil.FixedClock{T: now})
	return h
}

func (h *harness) runAt(t *testing.T, at time.Time) Result {
	t.Helper()
	h.svc.SetClock(timeutil.FixedClock{T: at})
	res := h.svc.UpdateActivationStates(context.Background(), "")
	require.True(t, res.Success, "run failed: %s", res.Message)
	return res
}

func TestRunCreatesActivationAndAdvancesWatermark(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)

	res := h.runAt(t, now)

	require.Len(t, res.Created, 1)
	a := res.Created[0]
	assert.Equal(t, domain.StatusActivated, a.Status)
	assert.Equal(t, "Acme", a.AccountName)
	assert.Equal(t, rep, a.ActivatedBy)
	assert.Equal(t, 6, a.TaskIDs.Len())

	stored := h.store.all()
	require.Len(t, stored, 1)
	require.NotNil(t, h.store.settings.LatestDateQueried)
	assert.True(t, h.store.settings.LatestDateQueried.Equal(now))
	require.NotNil(t, res.Watermark)

	runs, err := h.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, 1, runs[0].CreatedCount)
	assert.Len(t, h.arch.keys, 1)
	assert.Contains(t, h.bus.names(), events.ActivationCreated{}.EventName())
	assert.Contains(t, h.bus.names(), events.ActivationsRunCompleted{}.EventName())
	for _, e := range h.bus.events {
		assert.True(t, e.OccurredAt().Equal(now), "%s stamped %v", e.EventName(), e.OccurredAt())
	}
}

func TestRunIsIdempotentWithoutNewSignals(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)
	first := h.store.all()

	res := h.runAt(t, now)

	assert.Empty(t, res.Created)
	assert.Empty(t, res.Incremented)
	assert.Empty(t, res.Demoted)
	if diff := cmp.Diff(first, h.store.all()); diff != "" {
		t.Fatalf("activations changed on second run (-first +second):\n%s", diff)
	}
}

func TestRunIsIdempotentWithReplyInsideActivatingWindow(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = append(sixOutbound("A", base), inbound("00TR1", alice, base.Add(time.Hour)))
	first := h.runAt(t, now)
	require.Len(t, first.Created, 1)
	before := h.store.all()

	res := h.runAt(t, now.Add(time.Hour))

	assert.Empty(t, res.Created)
	assert.Empty(t, res.Incremented)
	if diff := cmp.Diff(before, h.store.all()); diff != "" {
		t.Fatalf("activations changed on second run (-first +second):\n%s", diff)
	}
}

func TestRunIgnoresSignalsOlderThanWatermark(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)

	// dated before the previous run
	h.crm.tasks = append(h.crm.tasks, inbound("00TR2", bob, base.Add(48*time.Hour)))
	h.crm.opps = []domain.Opportunity{{ID: "006O2", AccountID: account, OwnerID: rep, CreatedDate: base.Add(50 * time.Hour)}}
	res := h.runAt(t, now.Add(time.Hour))

	assert.Empty(t, res.Incremented)
	stored := h.store.all()
	require.Len(t, stored, 1)
	assert.False(t, stored[0].TaskIDs.Contains("00TR2"))
	assert.Equal(t, domain.StatusActivated, stored[0].Status)
}

func TestRunIncrementsActivationWithReply(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)

	h.crm.tasks = append(h.crm.tasks, inbound("00TR1", alice, now.Add(30*time.Minute)))
	res := h.runAt(t, now.Add(time.Hour))

	require.Len(t, res.Incremented, 1)
	a := res.Incremented[0]
	assert.Equal(t, domain.StatusEngaged, a.Status)
	assert.True(t, a.TaskIDs.Contains("00TR1"))
	require.NotNil(t, a.EngagedDate)
	assert.Empty(t, res.Created)
	assert.Contains(t, h.bus.names(), events.ActivationStatusChanged{}.EventName())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.crm.gate = make(chan struct{})
	h.crm.entered = make(chan struct{})

	done := make(chan Result, 1)
	go func() { done <- h.svc.UpdateActivationStates(context.Background(), "") }()
	<-h.crm.entered

	second := h.svc.UpdateActivationStates(context.Background(), "")
	close(h.crm.gate)
	first := <-done

	assert.False(t, second.Success)
	assert.True(t, apperr.Is(second.Err, apperr.KindConflict))
	require.True(t, first.Success, first.Message)
	require.Len(t, first.Created, 1)
	assert.Len(t, h.store.all(), 1)

	runs, err := h.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	third := h.runAt(t, now.Add(time.Hour))
	assert.Empty(t, third.Created)
}

func TestRunDemotesInactiveActivation(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)

	// last prospecting 2024-03-15, eleven days later
	res := h.runAt(t, time.Date(2024, time.March, 26, 12, 0, 0, 0, time.UTC))

	require.Len(t, res.Demoted, 1)
	assert.Empty(t, res.Created)
	stored := h.store.all()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.StatusUnresponsive, stored[0].Status)
	assert.Equal(t, timeutil.AddDays(stored[0].LastProspectingActivity, 10), stored[0].CurrentEffort().DateEntered)
}

func TestRunReactivatesAccountAfterUnresponsive(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)

	later := time.Date(2024, time.March, 26, 12, 0, 0, 0, time.UTC)
	h.crm.tasks = append(h.crm.tasks, sixOutbound("B", time.Date(2024, time.March, 26, 5, 0, 0, 0, time.UTC))...)
	res := h.runAt(t, later)

	require.Len(t, res.Demoted, 1)
	require.Len(t, res.Created, 1)
	assert.Equal(t, account, res.Created[0].AccountID)
	assert.Equal(t, domain.StatusActivated, res.Created[0].Status)
	assert.Empty(t, res.Created[0].TaskIDs.Intersect(res.Demoted[0].TaskIDs))

	var statuses []domain.Status
	for _, a := range h.store.all() {
		statuses = append(statuses, a.Status)
	}
	assert.ElementsMatch(t, []domain.Status{domain.StatusUnresponsive, domain.StatusActivated}, statuses)
}

func TestRunPromotesOnNewOpportunity(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.runAt(t, now)

	h.crm.opps = []domain.Opportunity{{ID: "006O1", AccountID: account, OwnerID: rep, Amount: 1733.42, CreatedDate: now.Add(30 * time.Minute)}}
	res := h.runAt(t, now.Add(time.Hour))

	require.Len(t, res.Incremented, 1)
	a := res.Incremented[0]
	assert.Equal(t, domain.StatusOpportunityCreated, a.Status)
	require.NotNil(t, a.Opportunity)
	assert.InDelta(t, 1733.42, a.Opportunity.Amount, 0.001)
	require.NotNil(t, a.EffortFor(domain.StatusOpportunityCreated))
	assert.Zero(t, a.EffortFor(domain.StatusOpportunityCreated).TaskIDs.Len())
}

func TestRunDerivesTeamFromActiveUsers(t *testing.T) {
	settings := testSettings()
	settings.TeamMemberIDs = nil
	h := newHarness(settings)
	h.crm.users = []domain.User{{ID: rep, IsActive: true}, {ID: "005GONE", IsActive: false}}
	h.crm.tasks = sixOutbound("A", base)

	res := h.runAt(t, now)

	require.Len(t, res.Created, 1)
	assert.Equal(t, rep, res.Created[0].ActivatedBy)
	assert.Empty(t, h.store.settings.TeamMemberIDs)
}

func TestRunAbortsOnSessionErrorWithoutAdvancingWatermark(t *testing.T) {
	h := newHarness(testSettings())
	h.crm.tasks = sixOutbound("A", base)
	h.crm.err = apperr.Session("refresh token expired", nil)

	res := h.svc.UpdateActivationStates(context.Background(), "")

	assert.False(t, res.Success)
	assert.True(t, res.IsSessionFailure())
	assert.NotEmpty(t, res.Message)
	assert.Nil(t, h.store.settings.LatestDateQueried)
	assert.Empty(t, h.store.all())

	runs, err := h.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRunRejectsUnknownTimezone(t *testing.T) {
	h := newHarness(testSettings())

	res := h.svc.UpdateActivationStates(context.Background(), "Mars/Olympus")

	assert.False(t, res.Success)
	assert.True(t, apperr.Is(res.Err, apperr.KindValidation))
	assert.Zero(t, h.crm.taskQueries)
}

func TestUpdateSettingsStoresLogicAndKeepsWatermark(t *testing.T) {
	h := newHarness(testSettings())
	mark := now
	h.store.settings.LatestDateQueried = &mark

	in := testSettings()
	in.Criteria[0].FilterLogic = "(1 OR 2) AND 3"
	out, err := h.svc.UpdateSettings(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "(_1_ OR _2_) AND _3_", out.Criteria[0].FilterLogic)
	require.NotNil(t, out.LatestDateQueried)
	assert.True(t, out.LatestDateQueried.Equal(mark))
}

func TestUpdateSettingsRejectsBadLogic(t *testing.T) {
	h := newHarness(testSettings())

	in := testSettings()
	in.Criteria[0].FilterLogic = "1 OR __import__"
	_, err := h.svc.UpdateSettings(context.Background(), in)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCleanupRunsDeletesOldHistory(t *testing.T) {
	h := newHarness(testSettings())
	old := domain.Run{ID: uuid.New(), StartedAt: now.AddDate(0, 0, -40)}
	recent := domain.Run{ID: uuid.New(), StartedAt: now.AddDate(0, 0, -1)}
	require.NoError(t, h.store.SaveRun(context.Background(), old))
	require.NoError(t, h.store.SaveRun(context.Background(), recent))
	h.arch.keys = []string{"runs/2024-02-09/old.json", "runs/2024-03-19/recent.json"}

	n, err := h.svc.CleanupRuns(context.Background(), 30*24*time.Hour)

	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	runs, _ := h.store.ListRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID, runs[0].ID)
	assert.Equal(t, []string{"runs/2024-03-19/recent.json"}, h.arch.keys)
}
