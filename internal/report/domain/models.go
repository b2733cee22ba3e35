// Package domain holds the report aggregate model and the collaborator
// contracts (document store, notification channel) the report engine consumes.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// DocumentRef points at another document (usually a raw usage record).
type DocumentRef string

// AlertFlags gate the one-time threshold notifications. Flags only move false -> true.
type AlertFlags struct {
	Level1 bool `json:"level1" bson:"level1"`
	Level2 bool `json:"level2" bson:"level2"`
	Level3 bool `json:"level3" bson:"level3"`
}

// Get returns the flag for level 1..3.
func (f AlertFlags) Get(level int) bool {
	switch level {
	case 1:
		return f.Level1
	case 2:
		return f.Level2
	case 3:
		return f.Level3
	default:
		return false
	}
}

// Set raises the flag for level 1..3.
func (f *AlertFlags) Set(level int) {
	switch level {
	case 1:
		f.Level1 = true
	case 2:
		f.Level2 = true
	case 3:
		f.Level3 = true
	}
}

// AlertField is the merge-patch key of an alert flag.
func AlertField(level int) string {
	return fmt.Sprintf("alerts.level%d", level)
}

// Aggregate is the running total of one report period.
type Aggregate struct {
	Path        string      `json:"path" bson:"_id"`
	Granularity Granularity `json:"granularity" bson:"granularity"`
	Year        int         `json:"year" bson:"year"`
	Month       int         `json:"month" bson:"month"`
	Day         int         `json:"day,omitempty" bson:"day,omitempty"`
	Term        int         `json:"term,omitempty" bson:"term,omitempty"`

	TotalAmount int64         `json:"totalAmount" bson:"totalAmount"`
	TotalCount  int64         `json:"totalCount" bson:"totalCount"`
	RecordRefs  []DocumentRef `json:"recordRefs" bson:"recordRefs"`

	PeriodStart time.Time `json:"periodStart" bson:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd" bson:"periodEnd"`

	Alerts     AlertFlags `json:"alerts" bson:"alerts"`
	Dispatched bool       `json:"dispatched" bson:"dispatched"`

	Version       int64     `json:"version" bson:"version"`
	LastUpdated   time.Time `json:"lastUpdated" bson:"lastUpdated"`
	LastUpdatedBy string    `json:"lastUpdatedBy" bson:"lastUpdatedBy"`
}

// Clone returns a deep copy.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	out := *a
	out.RecordRefs = append([]DocumentRef(nil), a.RecordRefs...)
	return &out
}

// HasRef reports whether ref already contributes to the aggregate.
func (a *Aggregate) HasRef(ref DocumentRef) bool {
	for _, r := range a.RecordRefs {
		if r == ref {
			return true
		}
	}
	return false
}

// Apply merges a partial document into the aggregate. Keys use the JSON field
// names; nested fields are addressed with dots ("alerts.level2").
func (a *Aggregate) Apply(patch map[string]any) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return err
	}

	for key, value := range patch {
		parts := strings.Split(key, ".")
		node := doc
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return err
	}
	var merged Aggregate
	if err := json.Unmarshal(raw, &merged); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	*a = merged
	return nil
}

type PayloadKind string

const (
	PayloadSummary PayloadKind = "summary"
	PayloadAlert   PayloadKind = "alert"
)

// Payload is what the notification channel receives.
type Payload struct {
	Kind        PayloadKind `json:"kind"`
	Granularity Granularity `json:"granularity"`
	Path        string      `json:"path"`
	Label       string      `json:"label"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	TotalAmount int64       `json:"total_amount"`
	TotalCount  int64       `json:"total_count"`
	AlertLevel  int         `json:"alert_level,omitempty"`
	Threshold   int64       `json:"threshold,omitempty"`
}

// SummaryPayload builds the end-of-period summary for an aggregate.
func SummaryPayload(a *Aggregate, label string) Payload {
	return Payload{
		Kind:        PayloadSummary,
		Granularity: a.Granularity,
		Path:        a.Path,
		Label:       label,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd,
		TotalAmount: a.TotalAmount,
		TotalCount:  a.TotalCount,
	}
}
