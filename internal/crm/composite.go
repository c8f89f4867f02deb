package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"activation_backend/platform/apperr"

	"golang.org/x/sync/errgroup"
)

const (
	// maxSubrequests is the composite batch limit per call.
	maxSubrequests = 25
	// idsPerQuery bounds the IN list of one chunked query.
	idsPerQuery = 200
)

type batchRequest struct {
	HaltOnError   bool              `json:"haltOnError"`
	BatchRequests []batchSubrequest `json:"batchRequests"`
}

type batchSubrequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type batchResponse struct {
	HasErrors bool                `json:"hasErrors"`
	Results   []batchSubresponse `json:"results"`
}

type batchSubresponse struct {
	StatusCode int             `json:"statusCode"`
	Result     json.RawMessage `json:"result"`
}

// queryAll runs the statements through the composite batch endpoint, at most
// maxSubrequests per call, with up to batchWorkers calls in flight and
// batchDelay between call starts. Records are returned in statement order.
func (c *Client) queryAll(ctx context.Context, statements []string) ([]record, error) {
	if len(statements) == 0 {
		return nil, nil
	}
	if len(statements) == 1 {
		return c.query(ctx, statements[0])
	}

	var batches [][]string
	for len(statements) > maxSubrequests {
		batches = append(batches, statements[:maxSubrequests:maxSubrequests])
		statements = statements[maxSubrequests:]
	}
	batches = append(batches, statements)

	type job struct {
		index      int
		statements []string
	}
	jobs := make(chan job)
	results := make([][]record, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i, b := range batches {
			if i > 0 && c.batchDelay > 0 {
				if err := sleep(gctx, c.batchDelay); err != nil {
					return err
				}
			}
			select {
			case jobs <- job{index: i, statements: b}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range min(c.batchWorkers, len(batches)) {
		g.Go(func() error {
			for j := range jobs {
				recs, err := c.runBatch(gctx, j.statements)
				if err != nil {
					return err
				}
				results[j.index] = recs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []record
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *Client) runBatch(ctx context.Context, statements []string) ([]record, error) {
	req := batchRequest{BatchRequests: make([]batchSubrequest, len(statements))}
	for i, s := range statements {
		req.BatchRequests[i] = batchSubrequest{
			Method: http.MethodGet,
			URL:    c.apiVersion + "/query?q=" + url.QueryEscape(s),
		}
	}

	var resp batchResponse
	if err := c.do(ctx, http.MethodPost, c.dataPath("composite/batch"), req, &resp); err != nil {
		return nil, fmt.Errorf("composite batch: %w", err)
	}
	if len(resp.Results) != len(statements) {
		return nil, apperr.Schema(fmt.Sprintf("composite batch returned %d results for %d requests", len(resp.Results), len(statements))).WithOp("crm.runBatch")
	}

	var out []record
	for i, sub := range resp.Results {
		recs, err := c.subresult(ctx, statements[i], sub)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// subresult decodes one batch entry. A transient failure of a single entry is
// retried on its own through the query endpoint.
func (c *Client) subresult(ctx context.Context, statement string, sub batchSubresponse) ([]record, error) {
	if sub.StatusCode >= 200 && sub.StatusCode < 300 {
		var page queryResponse
		if err := json.Unmarshal(sub.Result, &page); err != nil {
			return nil, apperr.Wrap(apperr.KindSchema, "decode batch result", err).WithOp("crm.runBatch")
		}
		return c.drain(ctx, page)
	}

	msg := errorMessage(sub.Result)
	switch {
	case sub.StatusCode == http.StatusUnauthorized:
		return nil, apperr.Session("salesforce session expired or invalid", errors.New(msg)).WithOp("crm.runBatch")
	case sub.StatusCode == http.StatusBadRequest:
		return nil, apperr.Wrap(apperr.KindSchema, "salesforce rejected the query", errors.New(msg)).WithOp("crm.runBatch")
	default:
		c.log.Warn("salesforce batch entry failed, retrying alone", "status", sub.StatusCode, "error", msg)
		return c.query(ctx, statement)
	}
}

// errorMessage joins a Salesforce error list, or returns raw as text.
func errorMessage(raw []byte) string {
	var errs []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(raw, &errs) == nil && len(errs) > 0 {
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.ErrorCode + ": " + e.Message
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
