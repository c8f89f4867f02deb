package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsFollowsWrapChain(t *testing.T) {
	base := Schema("unknown field Foo__c").WithOp("filter.Matches")
	wrapped := fmt.Errorf("grouping task 00T1: %w", base)

	if !Is(wrapped, KindSchema) {
		t.Fatalf("expected wrapped error to be KindSchema")
	}
	if Is(wrapped, KindSession) {
		t.Fatalf("expected wrapped error not to be KindSession")
	}
	if Is(nil, KindSchema) {
		t.Fatalf("expected nil error not to match any kind")
	}
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := Session("salesforce token rejected", errors.New("invalid_grant")).WithOp("crm.query")

	want := "crm.query: salesforce token rejected: invalid_grant"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestHTTPStatusForEngineKinds(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindSession, http.StatusUnauthorized},
		{KindTransient, http.StatusServiceUnavailable},
		{KindSchema, http.StatusUnprocessableEntity},
		{KindConstraint, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		got := New(tc.kind, "x").HTTPStatus()
		if got != tc.want {
			t.Errorf("kind %s: expected status %d, got %d", tc.kind, tc.want, got)
		}
	}
}
