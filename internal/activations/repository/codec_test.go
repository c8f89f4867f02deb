package repository

import (
	"testing"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/apperr"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func sampleActivation() *domain.Activation {
	id := uuid.New()
	engaged := day(16)
	daysEngaged := 4
	closeDate := day(30)
	return &domain.Activation{
		ID:                       id,
		AccountID:                "001A1",
		AccountName:              "Acme",
		AccountOwnerID:           "005OWN",
		ActivatedBy:              "005REP1",
		Status:                   domain.StatusOpportunityCreated,
		ActivatedDate:            day(15),
		EngagedDate:              &engaged,
		FirstProspectingActivity: day(15),
		LastProspectingActivity:  day(17),
		DaysActivated:            5,
		DaysEngaged:              &daysEngaged,
		ActiveContactIDs:         domain.NewIDSet("003C01", "003C02"),
		TaskIDs:                  domain.NewIDSet("00T1", "00T2", "00T3"),
		EventIDs:                 domain.NewIDSet("00U1"),
		Opportunity: &domain.OpportunitySnapshot{
			ID: "006O1", Name: "Renewal", Amount: 1733.42, StageName: "Prospecting",
			CloseDate: &closeDate, CreatedDate: time.Date(2024, time.March, 17, 10, 0, 0, 0, time.UTC), OwnerID: "005REP1",
		},
		ProspectingMetadata: []domain.ProspectingMetadata{
			{Name: "Unique Content", FirstOccurrence: day(15), LastOccurrence: day(17), Total: 3, TaskIDs: domain.NewIDSet("00T1", "00T2", "00T3")},
		},
		ProspectingEffort: []domain.ProspectingEffort{
			{ActivationID: id, Status: domain.StatusActivated, DateEntered: day(15), TaskIDs: domain.NewIDSet("00T1")},
			{ActivationID: id, Status: domain.StatusEngaged, DateEntered: day(16), TaskIDs: domain.NewIDSet("00T2")},
			{ActivationID: id, Status: domain.StatusOpportunityCreated, DateEntered: day(17), TaskIDs: domain.NewIDSet("00T3")},
		},
		CreatedAt: time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, time.March, 20, 12, 5, 0, 0, time.UTC),
	}
}

func TestActivationRoundTrip(t *testing.T) {
	in := sampleActivation()

	row, err := encodeActivation(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeActivation(row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestActivationRoundTripWithoutOptionalFields(t *testing.T) {
	in := &domain.Activation{
		ID:                       uuid.New(),
		AccountID:                "001A2",
		Status:                   domain.StatusActivated,
		ActivatedDate:            day(15),
		FirstProspectingActivity: day(15),
		LastProspectingActivity:  day(15),
	}

	row, err := encodeActivation(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if row.Opportunity != nil {
		t.Fatalf("expected NULL opportunity, got %s", row.Opportunity)
	}
	if string(row.TaskIDs) != "[]" {
		t.Fatalf("expected empty task_ids array, got %s", row.TaskIDs)
	}
	out, err := decodeActivation(row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownStatus(t *testing.T) {
	row, err := encodeActivation(sampleActivation())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	row.Status = "Dormant"

	if _, err := decodeActivation(row); !apperr.Is(err, apperr.KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestDecodeNormalisesDateLocation(t *testing.T) {
	row, err := encodeActivation(sampleActivation())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	row.ActivatedDate = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.FixedZone("CET", 3600))

	out, err := decodeActivation(row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ActivatedDate != day(15) {
		t.Fatalf("expected %v, got %v", day(15), out.ActivatedDate)
	}
}
