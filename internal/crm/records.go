package crm

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/filter"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/platform/apperr"
	"activation_backend/platform/sanitize"
)

const stageCRM = "crm"

var (
	taskFields        = []string{"Id", "WhoId", "WhatId", "OwnerId", "Subject", "Status", "CreatedDate"}
	eventFields       = []string{"Id", "WhoId", "WhatId", "AccountId", "OwnerId", "Subject", "StartDateTime", "EndDateTime", "CreatedDate"}
	opportunityFields = []string{"Id", "AccountId", "OwnerId", "Name", "Amount", "StageName", "CloseDate", "CreatedDate"}
)

// DescribeSObject lists the fields of a CRM object.
func (c *Client) DescribeSObject(ctx context.Context, name string) ([]domain.FieldDescription, error) {
	if !filter.ValidFieldName(name) {
		return nil, apperr.Validation(fmt.Sprintf("invalid object name %q", name))
	}
	var resp struct {
		Fields []struct {
			Name           string `json:"name"`
			Type           string `json:"type"`
			Label          string `json:"label"`
			PicklistValues []struct {
				Value  string `json:"value"`
				Active bool   `json:"active"`
			} `json:"picklistValues"`
		} `json:"fields"`
	}
	if err := c.do(ctx, "GET", c.dataPath("sobjects/"+url.PathEscape(name)+"/describe"), nil, &resp); err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	out := make([]domain.FieldDescription, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fd := domain.FieldDescription{Name: f.Name, Type: f.Type, Label: f.Label}
		for _, p := range f.PicklistValues {
			if p.Active {
				fd.PicklistValues = append(fd.PicklistValues, p.Value)
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

// FetchUsers returns the users with the given IDs, or every active user when ids is empty.
func (c *Client) FetchUsers(ctx context.Context, ids []string) ([]domain.User, error) {
	const base = "SELECT Id, Name, Email, IsActive FROM User"
	var statements []string
	if len(ids) == 0 {
		statements = []string{base + " WHERE IsActive = true ORDER BY Id"}
	} else {
		for _, part := range chunk(ids, idsPerQuery) {
			statements = append(statements, base+" WHERE Id IN "+quoteIDs(part))
		}
	}
	recs, err := c.queryAll(ctx, statements)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	out := make([]domain.User, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.User{
			ID:       r.str("Id"),
			Name:     sanitize.Text(r.str("Name")),
			Email:    r.str("Email"),
			IsActive: r.boolean("IsActive"),
		})
	}
	return out, nil
}

// FetchAccountsByIDs returns the accounts with the given IDs.
func (c *Client) FetchAccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	recs, err := c.queryAll(ctx, inStatements("SELECT Id, Name, OwnerId FROM Account WHERE Id IN ", ids, ""))
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Account{ID: r.str("Id"), Name: sanitize.Text(r.str("Name")), OwnerID: r.str("OwnerId")})
	}
	return out, nil
}

// FetchContactsByAccountIDs returns every contact of the given accounts.
func (c *Client) FetchContactsByAccountIDs(ctx context.Context, accountIDs []string) ([]domain.Contact, error) {
	recs, err := c.queryAll(ctx, inStatements("SELECT Id, AccountId, Name FROM Contact WHERE AccountId IN ", accountIDs, ""))
	if err != nil {
		return nil, fmt.Errorf("fetch contacts by account: %w", err)
	}
	return decodeContacts(recs), nil
}

// FetchContactsByIDs returns the contacts with the given IDs.
func (c *Client) FetchContactsByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	recs, err := c.queryAll(ctx, inStatements("SELECT Id, AccountId, Name FROM Contact WHERE Id IN ", ids, ""))
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	return decodeContacts(recs), nil
}

// FetchTasksMatchingAny returns tasks created at or after since that match at
// least one container, ordered by CreatedDate. Tasks in exclude are dropped
// after the query so the statement stays bounded.
func (c *Client) FetchTasksMatchingAny(ctx context.Context, since time.Time, criteria []domain.FilterContainer, exclude domain.IDSet, ownerIDs []string) ([]domain.Task, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	union, err := filter.SOQLUnion(criteria)
	if err != nil {
		return nil, err
	}

	where := []string{"CreatedDate >= " + timeutil.FormatCRMTime(since)}
	if union != "" {
		where = append(where, "("+union+")")
	}
	if len(ownerIDs) > 0 {
		where = append(where, "OwnerId IN "+quoteIDs(ownerIDs))
	}
	soql := "SELECT " + selectList(taskFields, filter.FieldNames(criteria...)) +
		" FROM Task WHERE " + strings.Join(where, " AND ") + " ORDER BY CreatedDate ASC, Id ASC"

	recs, err := c.query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		id := r.str("Id")
		if exclude.Contains(id) {
			continue
		}
		created, err := c.optionalTime(r, "CreatedDate")
		if err != nil {
			continue
		}
		out = append(out, domain.Task{
			ID:          id,
			WhoID:       r.str("WhoId"),
			WhatID:      r.str("WhatId"),
			OwnerID:     r.str("OwnerId"),
			Subject:     r.str("Subject"),
			Status:      r.str("Status"),
			CreatedDate: deref(created),
			Fields:      r,
		})
	}
	return out, nil
}

// FetchOpportunitiesByAccountIDs returns opportunities of the accounts created at or after since.
func (c *Client) FetchOpportunitiesByAccountIDs(ctx context.Context, accountIDs []string, since time.Time, ownerIDs []string) ([]domain.Opportunity, error) {
	tail := " AND CreatedDate >= " + timeutil.FormatCRMTime(since)
	if len(ownerIDs) > 0 {
		tail += " AND OwnerId IN " + quoteIDs(ownerIDs)
	}
	head := "SELECT " + strings.Join(opportunityFields, ", ") + " FROM Opportunity WHERE AccountId IN "
	recs, err := c.queryAll(ctx, inStatements(head, accountIDs, tail))
	if err != nil {
		return nil, fmt.Errorf("fetch opportunities: %w", err)
	}

	out := make([]domain.Opportunity, 0, len(recs))
	for _, r := range recs {
		created, err := c.optionalTime(r, "CreatedDate")
		if err != nil {
			continue
		}
		var closeDate *time.Time
		if s := r.str("CloseDate"); s != "" {
			d, err := timeutil.ParseDate(s)
			if err != nil {
				c.log.Diagnostic(stageCRM, r.str("Id"), err)
				continue
			}
			closeDate = &d
		}
		out = append(out, domain.Opportunity{
			ID:          r.str("Id"),
			AccountID:   r.str("AccountId"),
			OwnerID:     r.str("OwnerId"),
			Name:        sanitize.Text(r.str("Name")),
			Amount:      r.float("Amount"),
			StageName:   r.str("StageName"),
			CloseDate:   closeDate,
			CreatedDate: deref(created),
			Fields:      r,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.Opportunity) int { return a.CreatedDate.Compare(b.CreatedDate) })
	return out, nil
}

// FetchEventsByContactIDs returns events keyed by WhoId. Events created before
// since are still returned when they start at or after it.
func (c *Client) FetchEventsByContactIDs(ctx context.Context, contactIDs []string, since time.Time, ownerIDs []string, meetings *domain.FilterContainer) (map[string][]domain.Event, error) {
	at := timeutil.FormatCRMTime(since)
	tail := " AND (CreatedDate >= " + at + " OR StartDateTime >= " + at + ")"
	if len(ownerIDs) > 0 {
		tail += " AND OwnerId IN " + quoteIDs(ownerIDs)
	}
	fields := eventFields
	if meetings != nil {
		cond, err := filter.SOQLCondition(*meetings)
		if err != nil {
			return nil, err
		}
		if cond != "" {
			tail += " AND (" + cond + ")"
		}
		fields = mergeFields(eventFields, filter.FieldNames(*meetings))
	}
	head := "SELECT " + strings.Join(fields, ", ") + " FROM Event WHERE WhoId IN "
	recs, err := c.queryAll(ctx, inStatements(head, contactIDs, tail))
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	out := make(map[string][]domain.Event)
	for _, r := range recs {
		created, err := c.optionalTime(r, "CreatedDate")
		if err != nil {
			continue
		}
		start, err := c.optionalTime(r, "StartDateTime")
		if err != nil {
			continue
		}
		end, err := c.optionalTime(r, "EndDateTime")
		if err != nil {
			continue
		}
		e := domain.Event{
			ID:            r.str("Id"),
			WhoID:         r.str("WhoId"),
			WhatID:        r.str("WhatId"),
			AccountID:     r.str("AccountId"),
			OwnerID:       r.str("OwnerId"),
			Subject:       r.str("Subject"),
			StartDateTime: start,
			EndDateTime:   end,
			CreatedDate:   deref(created),
			Fields:        r,
		}
		out[e.WhoID] = append(out[e.WhoID], e)
	}
	return out, nil
}

// optionalTime parses a timestamp field, returning nil when it is absent. A
// malformed value is logged as a diagnostic and returned as an error so the
// caller skips the record.
func (c *Client) optionalTime(r record, field string) (*time.Time, error) {
	s := r.str(field)
	if s == "" {
		return nil, nil
	}
	t, err := timeutil.ParseCRMTime(s)
	if err != nil {
		c.log.Diagnostic(stageCRM, r.str("Id"), fmt.Errorf("%s: %w", field, err))
		return nil, err
	}
	return &t, nil
}

func decodeContacts(recs []record) []domain.Contact {
	out := make([]domain.Contact, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Contact{ID: r.str("Id"), AccountID: r.str("AccountId"), Name: sanitize.Text(r.str("Name"))})
	}
	return out
}

// inStatements builds one statement per chunk of ids: head + (ids) + tail.
func inStatements(head string, ids []string, tail string) []string {
	var out []string
	for _, part := range chunk(ids, idsPerQuery) {
		out = append(out, head+quoteIDs(part)+tail)
	}
	return out
}

func selectList(base, extra []string) string {
	return strings.Join(mergeFields(base, extra), ", ")
}

func mergeFields(base, extra []string) []string {
	out := slices.Clone(base)
	for _, f := range extra {
		if !slices.ContainsFunc(out, func(b string) bool { return strings.EqualFold(b, f) }) {
			out = append(out, f)
		}
	}
	return out
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
