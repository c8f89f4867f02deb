package crm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// record is one row returned by a SOQL query, with the "attributes" entry
// removed and relationship objects flattened to dotted keys.
type record map[string]any

type queryResponse struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// query runs a SOQL statement and follows nextRecordsUrl until done.
func (c *Client) query(ctx context.Context, soql string) ([]record, error) {
	var page queryResponse
	if err := c.do(ctx, "GET", c.dataPath("query")+"?q="+url.QueryEscape(soql), nil, &page); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return c.drain(ctx, page)
}

// drain collects the records of page and every page after it.
func (c *Client) drain(ctx context.Context, page queryResponse) ([]record, error) {
	out := make([]record, 0, page.TotalSize)
	for {
		for _, raw := range page.Records {
			out = append(out, flatten(raw))
		}
		if page.Done || page.NextRecordsURL == "" {
			return out, nil
		}
		next := page.NextRecordsURL
		page = queryResponse{}
		if err := c.do(ctx, "GET", next, nil, &page); err != nil {
			return nil, fmt.Errorf("query next page: %w", err)
		}
	}
}

func flatten(raw map[string]any) record {
	out := make(record, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out record, prefix string, raw map[string]any) {
	for k, v := range raw {
		if k == "attributes" {
			continue
		}
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

func (r record) str(name string) string {
	if v, ok := r[name].(string); ok {
		return v
	}
	return ""
}

func (r record) float(name string) float64 {
	if v, ok := r[name].(float64); ok {
		return v
	}
	return 0
}

func (r record) boolean(name string) bool {
	v, _ := r[name].(bool)
	return v
}

// quoteIDs renders ids as a SOQL IN list.
func quoteIDs(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", `\'`) + "'"
	}
	return "(" + strings.Join(quoted, ",") + ")"
}

// chunk splits ids into slices of at most size entries.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
