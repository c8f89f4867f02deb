package crm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/apperr"
	"activation_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/oauth2"
)

const apiPrefix = "/services/data/v60.0/"

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.InstanceURL = srv.URL
	opts.HTTPClient = srv.Client()
	opts.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token", TokenType: "Bearer"})
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	return NewWithOptions(opts, logger.New("test"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func page(done bool, next string, records ...map[string]any) map[string]any {
	return map[string]any{"totalSize": len(records), "done": done, "nextRecordsUrl": next, "records": records}
}

func outboundCriteria() []domain.FilterContainer {
	return []domain.FilterContainer{{
		Name:      "Outbound",
		Direction: domain.DirectionOutbound,
		Filters:   []domain.Filter{{Field: "Type", Operator: domain.OpEquals, Value: "Email", DataType: domain.DataTypeString}},
	}}
}

func TestFetchTasksFollowsPaginationAndDropsExcluded(t *testing.T) {
	var soql string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case apiPrefix + "query":
			soql = r.URL.Query().Get("q")
			writeJSON(w, http.StatusOK, page(false, apiPrefix+"query/next-1",
				map[string]any{"attributes": map[string]any{"type": "Task"}, "Id": "00T1", "WhoId": "003A", "CreatedDate": "2024-03-15T09:00:00.000+0000", "Type": "Email"},
				map[string]any{"Id": "00T2", "WhoId": "003A", "CreatedDate": "2024-03-15T10:00:00.000+0100", "Type": "Email"},
			))
		case apiPrefix + "query/next-1":
			writeJSON(w, http.StatusOK, page(true, "",
				map[string]any{"Id": "00T3", "WhoId": "003B", "CreatedDate": "not a date"},
				map[string]any{"Id": "00T4", "WhoId": "003B", "CreatedDate": "2024-03-16T09:00:00.000+0000", "Who": map[string]any{"Name": "Bea"}},
			))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tasks, err := c.FetchTasksMatchingAny(t.Context(), since, outboundCriteria(), domain.NewIDSet("00T2"), []string{"005R"})
	require.NoError(t, err)

	assert.Contains(t, soql, "SELECT Id, WhoId, WhatId, OwnerId, Subject, Status, CreatedDate, Type FROM Task")
	assert.Contains(t, soql, "CreatedDate >= 2024-03-01T00:00:00Z")
	assert.Contains(t, soql, "(Type = 'Email')")
	assert.Contains(t, soql, "OwnerId IN ('005R')")

	require.Len(t, tasks, 2)
	assert.Equal(t, "00T1", tasks[0].ID)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), tasks[0].CreatedDate)
	assert.NotContains(t, tasks[0].Fields, "attributes")
	assert.Equal(t, "00T4", tasks[1].ID)
	assert.Equal(t, "Bea", tasks[1].Fields["Who.Name"])
}

func TestFetchTasksWithoutCriteriaSkipsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))
	defer srv.Close()

	tasks, err := newTestClient(t, srv, Options{}).FetchTasksMatchingAny(t.Context(), time.Time{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestUnauthorizedIsSessionErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, []map[string]string{{"errorCode": "INVALID_SESSION_ID", "message": "Session expired"}})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, Options{MaxRetries: 3}).FetchUsers(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSession))
	assert.Contains(t, err.Error(), "INVALID_SESSION_ID")
	assert.EqualValues(t, 1, calls.Load())
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, page(true, "", map[string]any{"Id": "005A", "Name": "Alice", "IsActive": true}))
	}))
	defer srv.Close()

	users, err := newTestClient(t, srv, Options{MaxRetries: 2}).FetchUsers(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.User{{ID: "005A", Name: "Alice", IsActive: true}}, users)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExhaustedRetriesBecomeSessionError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, Options{MaxRetries: 2}).FetchUsers(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSession))
	assert.EqualValues(t, 3, calls.Load())
}

func TestBadRequestIsSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "INVALID_FIELD", "message": "No such column 'Foo__c'"}})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, Options{MaxRetries: 2}).FetchTasksMatchingAny(t.Context(), time.Time{}, outboundCriteria(), nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSchema))
}

func TestQueryAllBoundsConcurrentBatches(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	var inFlight, peak, batches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiPrefix+"composite/batch", r.URL.Path)
		batches.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]map[string]any, len(req.BatchRequests))
		for i, sub := range req.BatchRequests {
			q := sub.URL[strings.Index(sub.URL, "?q=")+3:]
			stmt, _ := url.QueryUnescape(q)
			results[i] = map[string]any{"statusCode": 200, "result": page(true, "", map[string]any{"Id": stmt})}
		}
		writeJSON(w, http.StatusOK, map[string]any{"hasErrors": false, "results": results})
	}))

	c := newTestClient(t, srv, Options{MaxConcurrentBatches: 2})
	var statements []string
	for i := range 60 {
		statements = append(statements, fmt.Sprintf("S%02d", i))
	}
	recs, err := c.queryAll(t.Context(), statements)
	require.NoError(t, err)

	require.Len(t, recs, 60)
	for i, r := range recs {
		assert.Equal(t, statements[i], r.str("Id"))
	}
	assert.EqualValues(t, 3, batches.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))

	srv.Close()
	srv.Client().CloseIdleConnections()
}

func TestBatchEntryFailureIsRetriedAlone(t *testing.T) {
	var mu sync.Mutex
	var single []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case apiPrefix + "composite/batch":
			writeJSON(w, http.StatusOK, map[string]any{"hasErrors": true, "results": []map[string]any{
				{"statusCode": 200, "result": page(true, "", map[string]any{"Id": "A"})},
				{"statusCode": 503, "result": []map[string]string{{"errorCode": "SERVER_UNAVAILABLE", "message": "busy"}}},
			}})
		case apiPrefix + "query":
			mu.Lock()
			single = append(single, r.URL.Query().Get("q"))
			mu.Unlock()
			writeJSON(w, http.StatusOK, page(true, "", map[string]any{"Id": "B"}))
		}
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv, Options{}).queryAll(t.Context(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].str("Id"))
	assert.Equal(t, "B", recs[1].str("Id"))
	assert.Equal(t, []string{"second"}, single)
}

func TestFetchEventsAppliesMeetingCriteria(t *testing.T) {
	var soql string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		soql = r.URL.Query().Get("q")
		writeJSON(w, http.StatusOK, page(true, "",
			map[string]any{"Id": "00U1", "WhoId": "003A", "CreatedDate": "2024-03-10T09:00:00.000+0000", "StartDateTime": "2024-03-18T14:00:00.000+0000", "Type": "Meeting"},
			map[string]any{"Id": "00U2", "WhoId": "003A", "CreatedDate": "2024-03-11T09:00:00.000+0000", "StartDateTime": nil, "Type": "Meeting"},
		))
	}))
	defer srv.Close()

	meetings := &domain.FilterContainer{
		Name:    "Meetings",
		Filters: []domain.Filter{{Field: "Type", Operator: domain.OpEquals, Value: "Meeting", DataType: domain.DataTypeString}},
	}
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := newTestClient(t, srv, Options{}).FetchEventsByContactIDs(t.Context(), []string{"003A"}, since, nil, meetings)
	require.NoError(t, err)

	assert.Contains(t, soql, "FROM Event WHERE WhoId IN ('003A')")
	assert.Contains(t, soql, "AND (Type = 'Meeting')")
	assert.Contains(t, soql, ", Type FROM Event")
	require.Len(t, events["003A"], 2)
	require.NotNil(t, events["003A"][0].StartDateTime)
	assert.Equal(t, time.Date(2024, 3, 18, 14, 0, 0, 0, time.UTC), *events["003A"][0].StartDateTime)
	assert.Nil(t, events["003A"][1].StartDateTime)
}

func TestFetchOpportunitiesSortsByCreation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, page(true, "",
			map[string]any{"Id": "006B", "AccountId": "001A", "Amount": 5000.0, "CloseDate": "2024-06-30", "CreatedDate": "2024-03-19T09:00:00.000+0000"},
			map[string]any{"Id": "006A", "AccountId": "001A", "Amount": nil, "CreatedDate": "2024-03-17T09:00:00.000+0000"},
		))
	}))
	defer srv.Close()

	opps, err := newTestClient(t, srv, Options{}).FetchOpportunitiesByAccountIDs(t.Context(), []string{"001A"}, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "006A", opps[0].ID)
	assert.Zero(t, opps[0].Amount)
	assert.Equal(t, 5000.0, opps[1].Amount)
	require.NotNil(t, opps[1].CloseDate)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), *opps[1].CloseDate)
}

func TestDescribeSObjectKeepsActivePicklistValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiPrefix+"sobjects/Task/describe", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"fields": []map[string]any{
			{"name": "Subject", "type": "string", "label": "Subject"},
			{"name": "Status", "type": "picklist", "label": "Status", "picklistValues": []map[string]any{
				{"value": "Open", "active": true},
				{"value": "Legacy", "active": false},
			}},
		}})
	}))
	defer srv.Close()

	fields, err := newTestClient(t, srv, Options{}).DescribeSObject(t.Context(), "Task")
	require.NoError(t, err)
	assert.Equal(t, []domain.FieldDescription{
		{Name: "Subject", Type: "string", Label: "Subject"},
		{Name: "Status", Type: "picklist", Label: "Status", PicklistValues: []string{"Open"}},
	}, fields)

	_, err = newTestClient(t, srv, Options{}).DescribeSObject(t.Context(), "Task/../User")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestChunk(t *testing.T) {
	ids := make([]string, 450)
	for i := range ids {
		ids[i] = fmt.Sprintf("%03d", i)
	}
	parts := chunk(ids, idsPerQuery)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 200)
	assert.Len(t, parts[2], 50)
	assert.Empty(t, chunk(nil, idsPerQuery))
}
