package domain

import (
	"testing"
	"time"

	"activation_backend/platform/apperr"

	"github.com/google/uuid"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func validActivation() *Activation {
	id := uuid.New()
	return &Activation{
		ID:                       id,
		AccountID:                "001A",
		Status:                   StatusEngaged,
		ActivatedDate:            day(4),
		FirstProspectingActivity: day(1),
		LastProspectingActivity:  day(5),
		TaskIDs:                  NewIDSet("t1", "t2", "t3"),
		ProspectingMetadata: []ProspectingMetadata{
			{Name: "Unique Content", FirstOccurrence: day(1), LastOccurrence: day(5), Total: 3, TaskIDs: NewIDSet("t1", "t2", "t3")},
		},
		ProspectingEffort: []ProspectingEffort{
			{ActivationID: id, Status: StatusActivated, DateEntered: day(4), TaskIDs: NewIDSet("t1")},
			{ActivationID: id, Status: StatusEngaged, DateEntered: day(5), TaskIDs: NewIDSet("t2", "t3")},
		},
	}
}

func TestIDSetKeepsSortedUniqueIDs(t *testing.T) {
	s := NewIDSet("b", "a", "", "b", "c")
	s.Add("a", "d")

	want := IDSet{"a", "b", "c", "d"}
	if !s.Equal(want) {
		t.Fatalf("expected %v, got %v", want, s)
	}
	if !s.Contains("c") || s.Contains("z") {
		t.Fatalf("unexpected Contains results for %v", s)
	}
	if got := s.Intersect(NewIDSet("d", "a", "x")); !got.Equal(IDSet{"a", "d"}) {
		t.Fatalf("expected intersection [a d], got %v", got)
	}
}

func TestValidateAcceptsConsistentActivation(t *testing.T) {
	if err := validActivation().Validate(); err != nil {
		t.Fatalf("expected valid activation, got %v", err)
	}
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	cases := map[string]func(a *Activation){
		"first after last": func(a *Activation) { a.FirstProspectingActivity = day(9) },
		"task outside segments": func(a *Activation) {
			a.TaskIDs.Add("t4")
			a.ProspectingMetadata[0].TaskIDs.Add("t4")
			a.ProspectingMetadata[0].Total = 4
		},
		"duplicate status segment": func(a *Activation) {
			a.ProspectingEffort[1].Status = StatusActivated
		},
		"segment before activation": func(a *Activation) { a.ProspectingEffort[0].DateEntered = day(2) },
		"unsorted segments": func(a *Activation) {
			a.ProspectingEffort[0], a.ProspectingEffort[1] = a.ProspectingEffort[1], a.ProspectingEffort[0]
		},
		"metadata total mismatch":   func(a *Activation) { a.ProspectingMetadata[0].Total = 2 },
		"opportunity status no opp": func(a *Activation) { a.Status = StatusOpportunityCreated },
		"meeting status no meeting": func(a *Activation) { a.Status = StatusMeetingSet },
	}

	for name, mutate := range cases {
		a := validActivation()
		mutate(a)
		err := a.Validate()
		if err == nil {
			t.Errorf("%s: expected constraint violation, got nil", name)
			continue
		}
		if !apperr.Is(err, apperr.KindConstraint) {
			t.Errorf("%s: expected KindConstraint, got %v", name, err)
		}
	}
}

func TestEnterStatusClampsToActivatedDate(t *testing.T) {
	a := validActivation()
	a.ProspectingEffort = a.ProspectingEffort[:1]

	e := a.EnterStatus(StatusMeetingSet, day(2))
	if !e.DateEntered.Equal(day(4)) {
		t.Fatalf("expected segment clamped to %s, got %s", day(4), e.DateEntered)
	}
	if a.Status != StatusMeetingSet {
		t.Fatalf("expected status %s, got %s", StatusMeetingSet, a.Status)
	}

	again := a.EnterStatus(StatusMeetingSet, day(6))
	if len(a.ProspectingEffort) != 2 || again != e {
		t.Fatalf("expected existing segment to be reused, got %d segments", len(a.ProspectingEffort))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := validActivation()
	c := a.Clone()

	c.TaskIDs.Add("t9")
	c.ProspectingEffort[0].TaskIDs.Add("t9")
	c.ProspectingMetadata[0].TaskIDs.Add("t9")

	if a.TaskIDs.Contains("t9") || a.ProspectingEffort[0].TaskIDs.Contains("t9") || a.ProspectingMetadata[0].TaskIDs.Contains("t9") {
		t.Fatalf("expected clone mutations not to leak into the original")
	}
}

func TestRecordMetadataTracksOccurrenceRange(t *testing.T) {
	var list []ProspectingMetadata
	list = RecordMetadata(list, "Unique Content", "t2", day(3))
	list = RecordMetadata(list, "Unique Content", "t1", day(1))
	list = RecordMetadata(list, "Unique Content", "t3", day(6))
	list = RecordMetadata(list, "Unique Content", "t3", day(6))

	if len(list) != 1 {
		t.Fatalf("expected one metadata entry, got %d", len(list))
	}
	m := list[0]
	if m.Total != 3 || !m.FirstOccurrence.Equal(day(1)) || !m.LastOccurrence.Equal(day(6)) {
		t.Fatalf("unexpected metadata %+v", m)
	}
}
