// Package engine implements the activation algorithms: task grouping, new
// activation detection, prospecting-effort segmentation, incrementing of
// existing activations and unresponsive demotion.
//
// Every stage is synchronous and works on materialised inputs. CRM and store
// I/O happens in the service layer before and after these stages run.
package engine

import (
	"fmt"
	"sync"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/filter"
	"activation_backend/platform/apperr"
	"activation_backend/platform/logger"
)

// Criteria holds the compiled filter containers of a settings snapshot.
type Criteria struct {
	All           []*filter.Matcher
	Meetings      *filter.Matcher
	Opportunities *filter.Matcher
	byName        map[string]*filter.Matcher
}

// CompileCriteria compiles every container in settings.
func CompileCriteria(s domain.Settings) (*Criteria, error) {
	all, err := filter.CompileAll(s.Criteria)
	if err != nil {
		return nil, err
	}
	c := &Criteria{All: all, byName: make(map[string]*filter.Matcher, len(all))}
	for _, m := range all {
		if _, dup := c.byName[m.Name()]; dup {
			return nil, apperr.Validation(fmt.Sprintf("criterion %q is defined twice", m.Name()))
		}
		c.byName[m.Name()] = m
	}
	if s.MeetingsCriteria != nil {
		if c.Meetings, err = filter.Compile(*s.MeetingsCriteria); err != nil {
			return nil, fmt.Errorf("meetings criteria: %w", err)
		}
	}
	if s.OpportunityCriteria != nil {
		if c.Opportunities, err = filter.Compile(*s.OpportunityCriteria); err != nil {
			return nil, fmt.Errorf("opportunity criteria: %w", err)
		}
	}
	return c, nil
}

// Direction returns the direction of the named criterion.
func (c *Criteria) Direction(name string) (domain.Direction, bool) {
	m, ok := c.byName[name]
	if !ok {
		return "", false
	}
	return m.Direction(), true
}

// Names returns criterion names in configured order.
func (c *Criteria) Names() []string {
	names := make([]string, len(c.All))
	for i, m := range c.All {
		names[i] = m.Name()
	}
	return names
}

// Diagnostic describes a record skipped by an engine stage.
type Diagnostic struct {
	Stage    string `json:"stage"`
	RecordID string `json:"record_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// Diagnostics collects skipped records for a run. Safe for concurrent use.
type Diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
	log   *logger.Logger
}

// NewDiagnostics creates a collector that also logs each entry.
func NewDiagnostics(log *logger.Logger) *Diagnostics {
	return &Diagnostics{log: log}
}

// Add records a skipped record.
func (d *Diagnostics) Add(stage, recordID string, err error) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.items = append(d.items, Diagnostic{
		Stage:    stage,
		RecordID: recordID,
		Kind:     apperr.GetKind(err).String(),
		Message:  err.Error(),
	})
	d.mu.Unlock()
	if d.log != nil {
		d.log.Diagnostic(stage, recordID, err)
	}
}

// Items returns a copy of the collected diagnostics.
func (d *Diagnostics) Items() []Diagnostic {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.items...)
}

// Len returns the number of diagnostics.
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
