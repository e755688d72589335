// Package client defines the monitored-agent registry: client records, the
// registry document they live in, and the sanitized public view derived from it.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the last known scan state of a client.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSecure      Status = "SECURE"
	StatusCompromised Status = "COMPROMISED"
	StatusOffline     Status = "OFFLINE"
	StatusError       Status = "ERROR"
)

// IsValid checks if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSecure, StatusCompromised, StatusOffline, StatusError:
		return true
	}
	return false
}

// IsVerdict reports whether the status can be produced by a probe.
func (s Status) IsVerdict() bool {
	switch s {
	case StatusSecure, StatusCompromised, StatusOffline, StatusError:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ID identifies a client. Provisioning writes ids either as JSON strings or
// numbers; the original form is kept so that a write-back does not change it.
type ID struct {
	value   string
	numeric bool
}

// NewID creates a string id.
func NewID(s string) ID {
	return ID{value: s}
}

// NewNumericID creates an id that is rendered as a JSON number.
func NewNumericID(n int64) ID {
	return ID{value: strconv.FormatInt(n, 10), numeric: true}
}

// String returns the id as text.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("client id: %w", err)
		}
		*id = ID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}

// FlexString accepts a JSON string or number and always renders as a string.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Record is one monitored agent.
//
// Records are created by an external provisioning process with status PENDING
// and mutated only by the scan cycle. Fields this package does not know about
// are kept and written back unchanged.
type Record struct {
	ID            ID         `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	TransactionID FlexString `json:"transaction_id,omitempty"`
	TelegramID    FlexString `json:"telegram_id,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CreatedAt     string     `json:"created_at,omitempty"`

	Status    Status `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
	LastCheck string `json:"last_check,omitempty"`

	// Private probe evidence. Never part of the public view.
	LastTrap  string `json:"last_trap,omitempty"`
	LastReply string `json:"last_reply,omitempty"`

	extra map[string]json.RawMessage
}

type recordFields Record

var knownRecordKeys = []string{
	"id", "name", "url", "transaction_id", "telegram_id", "tags", "created_at",
	"status", "detail", "last_check", "last_trap", "last_reply",
}

// MarshalJSON implements json.Marshaler, merging back unknown fields.
func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordFields(r))
	if err != nil {
		return nil, err
	}
	if len(r.extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(r.extra)+len(knownRecordKeys))
	for k, v := range r.extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON implements json.Unmarshaler, keeping unknown fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownRecordKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}

	*r = Record(fields)
	r.extra = all
	return nil
}

// CurrentStatus returns the record status, reading an empty status as PENDING.
func (r Record) CurrentStatus() Status {
	if r.Status == "" {
		return StatusPending
	}
	return r.Status
}

// HasTag reports whether the record carries the given tag (case-insensitive).
func (r Record) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range r.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Registry is the full client document: every record plus an opaque licenses
// collection owned by the provisioning side.
type Registry struct {
	Clients  []Record        `json:"clients"`
	Licenses json.RawMessage `json:"licenses"`
}

type registryFields Registry

// MarshalJSON implements json.Marshaler. Missing collections render as [].
func (r Registry) MarshalJSON() ([]byte, error) {
	out := registryFields(r)
	if out.Clients == nil {
		out.Clients = []Record{}
	}
	if len(bytes.TrimSpace(out.Licenses)) == 0 {
		out.Licenses = json.RawMessage("[]")
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	c := &Registry{
		Clients: make([]Record, len(r.Clients)),
	}
	for i, rec := range r.Clients {
		c.Clients[i] = rec.Clone()
	}
	if r.Licenses != nil {
		c.Licenses = append(json.RawMessage(nil), r.Licenses...)
	}
	return c
}

// IDs returns the client ids in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Clients))
	for _, rec := range r.Clients {
		ids = append(ids, rec.ID.String())
	}
	return ids
}

// timestampLayouts covers RFC 3339 and the zone-less ISO forms written by
// older provisioning scripts.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a stored timestamp. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a timestamp the way the scan cycle stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
