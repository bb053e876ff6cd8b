package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SchemaVersion is the canonical record schema generation. It is stamped on
// every stored record as `version`; records written by an older generation
// can be found through the version/update_date index and re-ingested.
const SchemaVersion = 1

// MinDate is the earliest update date the mirror accepts: the first session
// of the 1st Congress.
const MinDate = "1789-03-04"

// Chamber values accepted on canonical records.
const (
	ChamberHouse  = "house"
	ChamberSenate = "senate"
	ChamberJoint  = "joint"
)

// ValidChamber reports whether s is a normalized chamber tag.
func ValidChamber(s string) bool {
	switch s {
	case ChamberHouse, ChamberSenate, ChamberJoint:
		return true
	}
	return false
}

// Record is the canonical normalized form every ingested item is reduced to,
// regardless of family. Extras holds the family-specific attributes as flat
// scalars plus nested maps/lists; empty strings and nils are never present.
type Record struct {
	ID         string
	Type       Family
	Congress   int
	UpdateDate string // YYYY-MM-DD
	Version    int
	URL        string // optional, https only
	Extras     map[string]any
}

// Item flattens the record into a single attribute map suitable for a
// wide-column store. Fixed attributes win over extras on key collision.
func (r *Record) Item() map[string]any {
	item := make(map[string]any, len(r.Extras)+6)
	for k, v := range r.Extras {
		item[k] = v
	}
	item["id"] = r.ID
	item["type"] = string(r.Type)
	item["congress"] = r.Congress
	item["update_date"] = r.UpdateDate
	item["version"] = r.Version
	if r.URL != "" {
		item["url"] = r.URL
	} else {
		delete(item, "url")
	}
	return item
}

// ExtraString returns the named extra if it is a non-empty string.
func (r *Record) ExtraString(key string) (string, bool) {
	v, ok := r.Extras[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ExtraKeys returns the extra attribute names in sorted order.
func (r *Record) ExtraKeys() []string {
	keys := make([]string, 0, len(r.Extras))
	for k := range r.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidDate reports whether s is a real Gregorian YYYY-MM-DD date on or
// after MinDate.
func ValidDate(s string) bool {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return false
	}
	// time.Parse is lenient about nothing here, but guard the floor.
	min, _ := time.Parse("2006-01-02", MinDate)
	return !t.Before(min)
}

// NormalizeDate reduces an upstream ISO-8601 timestamp or date to
// YYYY-MM-DD. Accepts "2024-01-20", "2024-01-20T14:01:02Z" and the
// fractional/offset variants Congress.gov emits.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty date")
	}
	layouts := []string{
		"2006-01-02",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05.999999999Z",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

// BillID builds the deterministic bill identifier, e.g. "118-hr-100".
func BillID(congress int, billType string, billNumber int) string {
	return fmt.Sprintf("%d-%s-%d", congress, strings.ToLower(billType), billNumber)
}

// AmendmentID builds the deterministic amendment identifier.
func AmendmentID(congress int, amendmentType string, amendmentNumber int) string {
	return fmt.Sprintf("%d-%s-%d", congress, strings.ToLower(amendmentType), amendmentNumber)
}

// CommitteeID builds the deterministic committee identifier.
func CommitteeID(congress int, chamber, systemCode string) string {
	return fmt.Sprintf("%d-%s-%s", congress, chamber, strings.ToLower(systemCode))
}

// HearingID builds the deterministic hearing identifier; eventDate is the
// normalized YYYY-MM-DD hearing date.
func HearingID(congress int, chamber, systemCode, eventDate string) string {
	return fmt.Sprintf("%d-%s-%s-%s", congress, chamber, strings.ToLower(systemCode), eventDate)
}

// GenericID builds the identifier for families keyed by congress plus an
// arbitrary ordered tuple of parts (citation, number, bioguide id, ...).
// Parts are lowercased so reruns converge regardless of upstream casing.
func GenericID(family Family, congress int, parts ...string) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%d-%s", congress, family)
	for _, p := range parts {
		b.WriteString("-")
		b.WriteString(strings.ToLower(strings.TrimSpace(p)))
	}
	return b.String()
}
