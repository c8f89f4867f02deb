package validator

import (
	"testing"

	"activation_backend/platform/apperr"
)

type sample struct {
	Name     string `json:"name" validate:"required"`
	Timezone string `json:"user_timezone" validate:"timezone"`
	Items    []item `json:"items" validate:"dive"`
}

type item struct {
	Count int `json:"count" validate:"min=1"`
}

func TestValidateReportsJSONFieldPaths(t *testing.T) {
	err := New().Validate(sample{Timezone: "Mars/Olympus", Items: []item{{Count: 0}}})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var appErr *apperr.Error
	if !asAppErr(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	details, ok := appErr.Details.(map[string]string)
	if !ok {
		t.Fatalf("expected details map, got %T", appErr.Details)
	}
	want := map[string]string{"name": "required", "user_timezone": "timezone", "items[0].count": "min=1"}
	for field, rule := range want {
		if details[field] != rule {
			t.Errorf("expected %s to fail %q, got %q", field, rule, details[field])
		}
	}
}

func TestValidateAcceptsValidStruct(t *testing.T) {
	if err := New().Validate(sample{Name: "x", Timezone: "Europe/Amsterdam"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func asAppErr(err error, target **apperr.Error) bool {
	e, ok := err.(*apperr.Error)
	if ok {
		*target = e
	}
	return ok
}
