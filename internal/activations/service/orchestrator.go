package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/engine"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/internal/events"
	"activation_backend/platform/apperr"
	"activation_backend/platform/logger"

	"github.com/google/uuid"
)

// epoch is the earliest date the engine ever queries from.
var epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// RunRequest parameterizes one engine run.
type RunRequest struct {
	// UserTimezone is the IANA zone of the watermark. Empty falls back to the settings, then the configured default.
	UserTimezone string
	Trigger      domain.RunTrigger
}

// Result is the outcome of one engine run.
type Result struct {
	RunID       uuid.UUID            `json:"run_id"`
	Success     bool                 `json:"success"`
	Message     string               `json:"message,omitempty"`
	Demoted     []*domain.Activation `json:"demoted"`
	Incremented []*domain.Activation `json:"incremented"`
	Created     []*domain.Activation `json:"created"`
	Diagnostics []engine.Diagnostic  `json:"diagnostics"`
	Watermark   *time.Time           `json:"watermark,omitempty"`
	// Err is the cause of a failed run.
	Err error `json:"-"`
}

// runState carries the working set of one run.
type runState struct {
	working  domain.Settings
	criteria *engine.Criteria
	diag     *engine.Diagnostics
	log      *logger.Logger
	result   *Result
	before   map[uuid.UUID]domain.Status
}

// UpdateActivationStates runs the engine once with a manual trigger.
func (s *Service) UpdateActivationStates(ctx context.Context, userTimezone string) Result {
	return s.Run(ctx, RunRequest{UserTimezone: userTimezone, Trigger: domain.RunTriggerManual})
}

// Run demotes lapsed activations, merges new signals into active ones, detects
// new activations and advances the watermark. Only one run executes per
// process; a concurrent call fails with a conflict. Callers in different
// processes serialize through the scheduler's run lock. On failure the
// watermark is left untouched and already upserted activations stay committed.
func (s *Service) Run(ctx context.Context, req RunRequest) Result {
	if !s.running.TryLock() {
		err := apperr.Conflict("an activation run is already in progress")
		s.log.Warn("activation run rejected", "error", err)
		return Result{Message: err.Error(), Err: err}
	}
	defer s.running.Unlock()

	runID := uuid.New()
	ctx = logger.ContextWithRunID(ctx, runID.String())
	log := s.log.WithRunID(runID.String())

	run := domain.Run{ID: runID, Trigger: req.Trigger, StartedAt: s.clock.Now().UTC()}
	if run.Trigger == "" {
		run.Trigger = domain.RunTriggerManual
	}
	s.saveRun(ctx, run, log)

	result := Result{RunID: runID}
	st := &runState{log: log, result: &result, before: make(map[uuid.UUID]domain.Status)}
	st.diag = engine.NewDiagnostics(log)

	err := s.run(ctx, req, st)
	result.Diagnostics = st.diag.Items()
	if err != nil {
		result.Err = err
		result.Message = err.Error()
		log.Error("activation run failed", "error", err,
			"demoted", len(result.Demoted), "incremented", len(result.Incremented), "created", len(result.Created))
	} else {
		result.Success = true
		log.Info("activation run finished",
			"demoted", len(result.Demoted),
			"incremented", len(result.Incremented),
			"created", len(result.Created),
			"diagnostics", len(result.Diagnostics))
	}

	finished := s.clock.Now().UTC()
	run.FinishedAt = &finished
	run.Success = result.Success
	run.Message = result.Message
	run.DemotedCount = len(result.Demoted)
	run.IncrementedCount = len(result.Incremented)
	run.CreatedCount = len(result.Created)
	run.DiagnosticsCount = len(result.Diagnostics)
	run.Watermark = result.Watermark
	// The run context may already be cancelled; history and snapshots still go out.
	bg := context.WithoutCancel(ctx)
	s.saveRun(bg, run, log)
	s.archive(bg, run, result, log)
	s.publishRun(bg, run)
	return result
}

func (s *Service) run(ctx context.Context, req RunRequest, st *runState) error {
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	st.criteria, err = engine.CompileCriteria(settings)
	if err != nil {
		return fmt.Errorf("compile criteria: %w", err)
	}

	tz := req.UserTimezone
	if tz == "" {
		tz = settings.UserTimezone
	}
	if tz == "" {
		tz = s.defaultTimezone
	}
	// Resolve the watermark zone before any mutation so a bad zone fails fast.
	if _, err := timeutil.NowIn(s.clock, tz); err != nil {
		return err
	}

	team, err := s.teamMembers(ctx, settings)
	if err != nil {
		return err
	}
	st.working = settings
	st.working.TeamMemberIDs = team

	active, err := s.store.LoadActive(ctx, ports.OrderByFirstProspecting)
	if err != nil {
		return fmt.Errorf("load active activations: %w", err)
	}
	unresponsive, err := s.store.LoadUnresponsive(ctx)
	if err != nil {
		return fmt.Errorf("load unresponsive activations: %w", err)
	}
	var exclude domain.IDSet
	for _, a := range active {
		exclude = exclude.Union(a.TaskIDs)
		st.before[a.ID] = a.Status
	}
	for _, a := range unresponsive {
		exclude = exclude.Union(a.TaskIDs)
	}

	active, err = s.demote(ctx, st, active)
	if err != nil {
		return err
	}

	signals, err := s.collectSignals(ctx, st, active, exclude)
	if err != nil {
		return err
	}

	fresh := engine.IncrementSignals{
		Grouped:       signals.grouped,
		Meetings:      signals.meetings,
		Opportunities: signals.opportunities,
	}
	// The fetch reaches back past the watermark for the builder; active
	// activations only take what arrived since the previous run.
	if settings.LatestDateQueried != nil {
		fresh = fresh.Since(settings.LatestDateQueried.UTC())
	}
	inc := engine.NewIncrementer(st.working, st.criteria, s.clock)
	changed := inc.Increment(active, fresh)
	if err := s.persist(ctx, changed); err != nil {
		return fmt.Errorf("persist incremented activations: %w", err)
	}
	st.result.Incremented = changed
	for _, a := range changed {
		s.publishStatusChange(ctx, a, st.before[a.ID])
	}

	created, err := s.detect(ctx, st, active, exclude, signals)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, created); err != nil {
		return fmt.Errorf("persist new activations: %w", err)
	}
	st.result.Created = created
	for _, a := range created {
		s.publishCreated(ctx, a)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	watermark, err := timeutil.NowIn(s.clock, tz)
	if err != nil {
		return err
	}
	settings.LatestDateQueried = &watermark
	settings.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	st.result.Watermark = &watermark
	return nil
}

// teamMembers returns the configured team, or every active CRM user when none is configured.
func (s *Service) teamMembers(ctx context.Context, settings domain.Settings) ([]string, error) {
	if len(settings.TeamMemberIDs) > 0 {
		return settings.TeamMemberIDs, nil
	}
	users, err := s.crm.FetchUsers(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.IsActive {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// demote runs the unresponsive detector and returns the remaining working set.
func (s *Service) demote(ctx context.Context, st *runState, active []*domain.Activation) ([]*domain.Activation, error) {
	detector := engine.NewUnresponsiveDetector(st.working, s.clock, st.diag)
	candidates, since := detector.Candidates(active)
	if len(candidates) == 0 {
		return active, nil
	}

	tasks, err := s.crm.FetchTasksMatchingAny(ctx, since, st.working.Criteria, nil, st.working.TeamMemberIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch tasks for inactivity check: %w", err)
	}
	contactAccount, err := s.contactAccounts(ctx, tasks, nil)
	if err != nil {
		return nil, err
	}

	demoted := detector.Demote(candidates, tasks, contactAccount)
	if err := s.persist(ctx, demoted); err != nil {
		return nil, fmt.Errorf("persist demoted activations: %w", err)
	}
	st.result.Demoted = demoted
	gone := make(map[uuid.UUID]bool, len(demoted))
	for _, a := range demoted {
		gone[a.ID] = true
		s.publishStatusChange(ctx, a, st.before[a.ID])
	}
	st.log.Info("inactivity check finished", "candidates", len(candidates), "demoted", len(demoted))

	remaining := make([]*domain.Activation, 0, len(active)-len(demoted))
	for _, a := range active {
		if !gone[a.ID] {
			remaining = append(remaining, a)
		}
	}
	return remaining, nil
}

type collectedSignals struct {
	grouper        *engine.Grouper
	grouped        engine.Grouped
	contactAccount map[string]string
	meetings       map[string][]domain.Meeting
	opportunities  map[string][]domain.Opportunity
}

// collectSignals fetches every task, meeting and opportunity since the
// backed-off watermark and groups them by account.
func (s *Service) collectSignals(ctx context.Context, st *runState, active []*domain.Activation, exclude domain.IDSet) (collectedSignals, error) {
	var out collectedSignals
	settings := st.working
	since := epoch
	if settings.LatestDateQueried != nil {
		backoff := settings.InactivityThreshold + settings.TrackingPeriod
		since = timeutil.MaxTime(timeutil.AddDays(settings.LatestDateQueried.UTC(), -backoff), epoch)
	}

	meetingTasks := settings.Meeting() == domain.MeetingObjectTask && settings.MeetingsCriteria != nil
	criteria := settings.Criteria
	if meetingTasks {
		criteria = append(append([]domain.FilterContainer(nil), criteria...), *settings.MeetingsCriteria)
	}
	var tasks []domain.Task
	if len(criteria) > 0 {
		var err error
		tasks, err = s.crm.FetchTasksMatchingAny(ctx, since, criteria, exclude, settings.TeamMemberIDs)
		if err != nil {
			return out, fmt.Errorf("fetch tasks: %w", err)
		}
	}
	st.log.Debug("fetched tasks", "since", since, "count", len(tasks))

	activeAccounts := make([]string, 0, len(active))
	for _, a := range active {
		activeAccounts = append(activeAccounts, a.AccountID)
	}
	contactAccount, err := s.contactAccounts(ctx, tasks, activeAccounts)
	if err != nil {
		return out, err
	}

	out.grouper = engine.NewGrouper(st.criteria, meetingTasks, st.diag)
	out.grouped = out.grouper.Group(tasks, contactAccount, exclude)
	out.contactAccount = contactAccount

	accounts := domain.NewIDSet(activeAccounts...)
	accounts.Add(out.grouped.Accounts()...)
	if accounts.Len() == 0 {
		out.meetings = map[string][]domain.Meeting{}
		out.opportunities = map[string][]domain.Opportunity{}
		return out, nil
	}

	out.meetings = map[string][]domain.Meeting{}
	if settings.Meeting() == domain.MeetingObjectEvent {
		contactIDs := make([]string, 0, len(contactAccount))
		for contactID, accountID := range contactAccount {
			if accounts.Contains(accountID) {
				contactIDs = append(contactIDs, contactID)
			}
		}
		contactIDs = domain.NewIDSet(contactIDs...)
		events, err := s.crm.FetchEventsByContactIDs(ctx, contactIDs, since, settings.TeamMemberIDs, settings.MeetingsCriteria)
		if err != nil {
			return out, fmt.Errorf("fetch events: %w", err)
		}
		out.meetings = engine.QualifyingMeetings(events, contactAccount, st.criteria, st.diag)
	}

	opps, err := s.crm.FetchOpportunitiesByAccountIDs(ctx, accounts, since, settings.TeamMemberIDs)
	if err != nil {
		return out, fmt.Errorf("fetch opportunities: %w", err)
	}
	out.opportunities = engine.QualifyingOpportunities(opps, st.criteria, st.diag)
	return out, nil
}

// contactAccounts maps contact IDs to account IDs for the WhoIds of tasks and
// every contact of the given accounts.
func (s *Service) contactAccounts(ctx context.Context, tasks []domain.Task, accountIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(accountIDs) > 0 {
		contacts, err := s.crm.FetchContactsByAccountIDs(ctx, domain.NewIDSet(accountIDs...))
		if err != nil {
			return nil, fmt.Errorf("fetch contacts by account: %w", err)
		}
		for _, c := range contacts {
			if c.AccountID != "" {
				out[c.ID] = c.AccountID
			}
		}
	}

	var missing domain.IDSet
	for _, t := range tasks {
		if t.WhoID == "" {
			continue
		}
		if _, ok := out[t.WhoID]; !ok {
			missing.Add(t.WhoID)
		}
	}
	if missing.Len() == 0 {
		return out, nil
	}
	contacts, err := s.crm.FetchContactsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	for _, c := range contacts {
		if c.AccountID != "" {
			out[c.ID] = c.AccountID
		}
	}
	return out, nil
}

// detect builds new activations for accounts that hold no active activation.
func (s *Service) detect(ctx context.Context, st *runState, active []*domain.Activation, exclude domain.IDSet, sig collectedSignals) ([]*domain.Activation, error) {
	skip := exclude
	held := make(map[string]bool, len(active))
	for _, a := range active {
		skip = skip.Union(a.TaskIDs)
		held[a.AccountID] = true
	}
	grouped := sig.grouped.Without(skip)

	var accountIDs []string
	for _, id := range grouped.Accounts() {
		if !held[id] {
			accountIDs = append(accountIDs, id)
		}
	}
	if len(accountIDs) == 0 {
		return nil, nil
	}

	accounts, err := s.crm.FetchAccountsByIDs(ctx, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	byID := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	builder := engine.NewBuilder(st.working, st.criteria, s.clock)
	var created []*domain.Activation
	for _, id := range accountIDs {
		account, ok := byID[id]
		if !ok {
			account = domain.Account{ID: id}
		}
		accountSig := sig.grouper.Signals(grouped, account)
		accountSig.Meetings = append(accountSig.Meetings, sig.meetings[id]...)
		engine.SortMeetings(accountSig.Meetings)
		accountSig.Opportunities = sig.opportunities[id]
		created = append(created, builder.Build(accountSig)...)
	}
	return created, nil
}

// persist checks every invariant before writing anything.
func (s *Service) persist(ctx context.Context, activations []*domain.Activation) error {
	if len(activations) == 0 {
		return nil
	}
	for _, a := range activations {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("activation %s for account %s: %w", a.ID, a.AccountID, err)
		}
	}
	_, err := s.store.Upsert(ctx, activations)
	return err
}

func (s *Service) saveRun(ctx context.Context, run domain.Run, log *logger.Logger) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		log.DatabaseError("save activation run", err)
	}
}

type runSnapshot struct {
	Run    domain.Run `json:"run"`
	Result Result     `json:"result"`
}

func (s *Service) archive(ctx context.Context, run domain.Run, result Result, log *logger.Logger) {
	if s.archiver == nil {
		return
	}
	body, err := json.Marshal(runSnapshot{Run: run, Result: result})
	if err != nil {
		log.Error("encode run snapshot", "error", err)
		return
	}
	key := fmt.Sprintf("runs/%s/%s.json", run.StartedAt.UTC().Format(timeutil.DateLayout), run.ID)
	if err := s.archiver.PutJSON(ctx, key, body); err != nil {
		log.Warn("archive run snapshot failed", "key", key, "error", err)
	}
}

func (s *Service) publishCreated(ctx context.Context, a *domain.Activation) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.ActivationCreated{
		BaseEvent:     events.NewBaseEventAt(s.clock.Now()),
		ActivationID:  a.ID,
		AccountID:     a.AccountID,
		AccountName:   a.AccountName,
		ActivatedBy:   a.ActivatedBy,
		Status:        string(a.Status),
		ActivatedDate: a.ActivatedDate,
	})
}

func (s *Service) publishStatusChange(ctx context.Context, a *domain.Activation, from domain.Status) {
	if s.bus == nil || from == a.Status {
		return
	}
	s.bus.Publish(ctx, events.ActivationStatusChanged{
		BaseEvent:    events.NewBaseEventAt(s.clock.Now()),
		ActivationID: a.ID,
		AccountID:    a.AccountID,
		From:         string(from),
		To:           string(a.Status),
	})
}

func (s *Service) publishRun(ctx context.Context, run domain.Run) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.ActivationsRunCompleted{
		BaseEvent:   events.NewBaseEventAt(s.clock.Now()),
		RunID:       run.ID,
		Trigger:     string(run.Trigger),
		Success:     run.Success,
		Message:     run.Message,
		Demoted:     run.DemotedCount,
		Incremented: run.IncrementedCount,
		Created:     run.CreatedCount,
		Diagnostics: run.DiagnosticsCount,
	})
}

// IsSessionFailure reports whether a failed run was caused by CRM credentials.
func (r Result) IsSessionFailure() bool {
	return r.Err != nil && apperr.Is(r.Err, apperr.KindSession)
}
