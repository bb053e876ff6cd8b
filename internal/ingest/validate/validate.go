// Package validate converts raw upstream records into canonical records.
// Normalize is a total pure function of its input: no I/O, no shared state,
// safe from any worker. Canonical output fed back through Normalize comes
// out unchanged, which is what makes reruns converge.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// InvalidError reports a rejected record with the fields that failed.
type InvalidError struct {
	Family domain.Family
	Fields []string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s record: %s [%s]", e.Family, e.Reason, strings.Join(e.Fields, ", "))
}

// Normalize validates and normalizes one raw upstream record for a family.
// It accepts both upstream camelCase keys and already-canonical snake_case
// keys, so the function composed with itself equals itself.
func Normalize(f domain.Family, raw map[string]any) (*domain.Record, error) {
	if !f.Valid() {
		return nil, &InvalidError{Family: f, Fields: []string{"type"}, Reason: "unknown family"}
	}
	switch f {
	case domain.FamilyBill:
		return normalizeBill(raw)
	case domain.FamilyAmendment:
		return normalizeAmendment(raw)
	case domain.FamilyCommittee:
		return normalizeCommittee(raw)
	case domain.FamilyHearing:
		return normalizeHearing(raw)
	case domain.FamilyNomination:
		return normalizeNomination(raw)
	case domain.FamilyTreaty:
		return normalizeTreaty(raw)
	default:
		return normalizeGeneric(f, raw)
	}
}

func base(f domain.Family, raw map[string]any) (*domain.Record, *InvalidError) {
	rec := &domain.Record{
		Type:    f,
		Version: domain.SchemaVersion,
		Extras:  make(map[string]any),
	}

	var missing []string

	congress, ok := intField(raw, "congress")
	if !ok {
		if familyDefaultsCongress(f) {
			congress = 1
		} else {
			missing = append(missing, "congress")
		}
	}
	if ok && congress < 1 {
		return nil, &InvalidError{Family: f, Fields: []string{"congress"}, Reason: fmt.Sprintf("congress %d out of range", congress)}
	}
	rec.Congress = congress

	rawDate, ok := stringField(raw, "updateDate", "update_date")
	if !ok {
		missing = append(missing, "update_date")
	} else {
		date, err := domain.NormalizeDate(rawDate)
		if err != nil || !domain.ValidDate(date) {
			return nil, &InvalidError{Family: f, Fields: []string{"update_date"}, Reason: fmt.Sprintf("bad date %q", rawDate)}
		}
		rec.UpdateDate = date
	}

	if u, ok := stringField(raw, "url"); ok {
		if !strings.HasPrefix(u, "https://") {
			return nil, &InvalidError{Family: f, Fields: []string{"url"}, Reason: "url must be https"}
		}
		rec.URL = u
	}

	if len(missing) > 0 {
		return nil, &InvalidError{Family: f, Fields: missing, Reason: "missing required fields"}
	}
	return rec, nil
}

// familyDefaultsCongress lists the families whose upstream list payloads may
// legitimately omit the congress ordinal; the schema still mandates it, so
// it defaults to 1.
func familyDefaultsCongress(f domain.Family) bool {
	switch f {
	case domain.FamilyCommittee, domain.FamilyMember, domain.FamilyCongress:
		return true
	}
	return false
}

func normalizeBill(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyBill, raw)
	if verr != nil {
		return nil, verr
	}

	// bill_type is tried before type: on canonical input the type attribute
	// holds the family tag, not the bill type.
	billType, okType := stringField(raw, "bill_type", "billType", "type")
	billNumber, okNum := intField(raw, "number", "bill_number", "billNumber")
	var missing []string
	if !okType {
		missing = append(missing, "bill_type")
	}
	if !okNum {
		missing = append(missing, "bill_number")
	}
	title, okTitle := stringField(raw, "title")
	if !okTitle {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return nil, &InvalidError{Family: domain.FamilyBill, Fields: missing, Reason: "missing required fields"}
	}
	if billNumber < 1 {
		return nil, &InvalidError{Family: domain.FamilyBill, Fields: []string{"bill_number"}, Reason: "bill number must be positive"}
	}
	billType = strings.ToLower(billType)
	if !validBillType(billType) {
		return nil, &InvalidError{Family: domain.FamilyBill, Fields: []string{"bill_type"}, Reason: fmt.Sprintf("unknown bill type %q", billType)}
	}

	rec.ID = domain.BillID(rec.Congress, billType, billNumber)
	rec.Extras["bill_type"] = billType
	rec.Extras["bill_number"] = billNumber
	rec.Extras["title"] = collapseSpace(title)

	if chamber, ok := stringField(raw, "originChamber", "origin_chamber"); ok {
		norm, cerr := normalizeChamber(chamber)
		if cerr != nil {
			return nil, &InvalidError{Family: domain.FamilyBill, Fields: []string{"origin_chamber"}, Reason: cerr.Error()}
		}
		rec.Extras["origin_chamber"] = norm
	}
	if la := mapField(raw, "latestAction", "latest_action"); la != nil {
		action := map[string]any{}
		if text, ok := stringField(la, "text"); ok {
			action["text"] = collapseSpace(text)
		}
		if d, ok := stringField(la, "actionDate", "action_date"); ok {
			norm, err := domain.NormalizeDate(d)
			if err != nil {
				return nil, &InvalidError{Family: domain.FamilyBill, Fields: []string{"latest_action.action_date"}, Reason: err.Error()}
			}
			action["action_date"] = norm
		}
		if len(action) > 0 {
			rec.Extras["latest_action"] = action
		}
	}
	if d, ok := stringField(raw, "introducedDate", "introduced_date"); ok {
		norm, err := domain.NormalizeDate(d)
		if err != nil {
			return nil, &InvalidError{Family: domain.FamilyBill, Fields: []string{"introduced_date"}, Reason: err.Error()}
		}
		rec.Extras["introduced_date"] = norm
	}
	copyList(rec, raw, "sponsors", "sponsors")
	copyList(rec, raw, "committees", "committees")
	return rec, nil
}

func normalizeAmendment(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyAmendment, raw)
	if verr != nil {
		return nil, verr
	}

	amdType, okType := stringField(raw, "amendment_type", "amendmentType", "type")
	amdNumber, okNum := intField(raw, "number", "amendment_number", "amendmentNumber")
	var missing []string
	if !okType {
		missing = append(missing, "amendment_type")
	}
	if !okNum {
		missing = append(missing, "amendment_number")
	}
	if len(missing) > 0 {
		return nil, &InvalidError{Family: domain.FamilyAmendment, Fields: missing, Reason: "missing required fields"}
	}
	amdType = strings.ToLower(amdType)

	rec.ID = domain.AmendmentID(rec.Congress, amdType, amdNumber)
	rec.Extras["amendment_type"] = amdType
	rec.Extras["amendment_number"] = amdNumber

	if purpose, ok := stringField(raw, "purpose"); ok {
		rec.Extras["purpose"] = collapseSpace(purpose)
	}
	if d, ok := stringField(raw, "submittedDate", "submitDate", "submit_date"); ok {
		norm, err := domain.NormalizeDate(d)
		if err != nil {
			return nil, &InvalidError{Family: domain.FamilyAmendment, Fields: []string{"submit_date"}, Reason: err.Error()}
		}
		rec.Extras["submit_date"] = norm
	}
	if chamber, ok := stringField(raw, "chamber"); ok {
		norm, cerr := normalizeChamber(chamber)
		if cerr != nil {
			return nil, &InvalidError{Family: domain.FamilyAmendment, Fields: []string{"chamber"}, Reason: cerr.Error()}
		}
		rec.Extras["chamber"] = norm
	}
	if ab := mapField(raw, "amendedBill", "associated_bill", "associatedBill"); ab != nil {
		assoc := map[string]any{}
		if c, ok := intField(ab, "congress"); ok {
			assoc["congress"] = c
		}
		if t, ok := stringField(ab, "type"); ok {
			assoc["type"] = strings.ToLower(t)
		}
		if n, ok := intField(ab, "number"); ok {
			assoc["number"] = n
		}
		if len(assoc) > 0 {
			rec.Extras["associated_bill"] = assoc
		}
	}
	return rec, nil
}

func normalizeCommittee(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyCommittee, raw)
	if verr != nil {
		return nil, verr
	}

	name, okName := stringField(raw, "name")
	systemCode, okCode := stringField(raw, "systemCode", "system_code")
	chamberRaw, okChamber := stringField(raw, "chamber")
	var missing []string
	if !okName {
		missing = append(missing, "name")
	}
	if !okCode {
		missing = append(missing, "system_code")
	}
	if !okChamber {
		missing = append(missing, "chamber")
	}
	if len(missing) > 0 {
		return nil, &InvalidError{Family: domain.FamilyCommittee, Fields: missing, Reason: "missing required fields"}
	}
	chamber, cerr := normalizeChamber(chamberRaw)
	if cerr != nil {
		return nil, &InvalidError{Family: domain.FamilyCommittee, Fields: []string{"chamber"}, Reason: cerr.Error()}
	}

	rec.ID = domain.CommitteeID(rec.Congress, chamber, systemCode)
	rec.Extras["name"] = collapseSpace(name)
	rec.Extras["chamber"] = chamber
	rec.Extras["system_code"] = strings.ToLower(systemCode)

	if ct, ok := stringField(raw, "committeeTypeCode", "committee_type", "committeeType"); ok {
		rec.Extras["committee_type"] = strings.ToLower(ct)
	}
	if parent := mapField(raw, "parent", "parent_committee", "parentCommittee"); parent != nil {
		cleaned := cleanMap(parent)
		if len(cleaned) > 0 {
			rec.Extras["parent_committee"] = cleaned
		}
	}
	copyList(rec, raw, "subcommittees", "subcommittees")
	return rec, nil
}

func normalizeHearing(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyHearing, raw)
	if verr != nil {
		return nil, verr
	}

	chamberRaw, okChamber := stringField(raw, "chamber")
	if !okChamber {
		return nil, &InvalidError{Family: domain.FamilyHearing, Fields: []string{"chamber"}, Reason: "missing required fields"}
	}
	chamber, cerr := normalizeChamber(chamberRaw)
	if cerr != nil {
		return nil, &InvalidError{Family: domain.FamilyHearing, Fields: []string{"chamber"}, Reason: cerr.Error()}
	}

	committee := mapField(raw, "committee")
	if committee == nil {
		if list := listField(raw, "committees"); len(list) > 0 {
			if m, ok := list[0].(map[string]any); ok {
				committee = m
			}
		}
	}
	systemCode := ""
	if committee != nil {
		systemCode, _ = stringField(committee, "systemCode", "system_code")
	}
	if systemCode == "" {
		return nil, &InvalidError{Family: domain.FamilyHearing, Fields: []string{"committee.system_code"}, Reason: "missing required fields"}
	}

	eventDate, ok := stringField(raw, "date", "eventDate")
	if !ok {
		if dates := listField(raw, "dates"); len(dates) > 0 {
			if m, okm := dates[0].(map[string]any); okm {
				eventDate, _ = stringField(m, "date")
			}
		}
	}
	if eventDate == "" {
		return nil, &InvalidError{Family: domain.FamilyHearing, Fields: []string{"date"}, Reason: "missing required fields"}
	}
	normDate, err := domain.NormalizeDate(eventDate)
	if err != nil || !domain.ValidDate(normDate) {
		return nil, &InvalidError{Family: domain.FamilyHearing, Fields: []string{"date"}, Reason: fmt.Sprintf("bad date %q", eventDate)}
	}

	rec.ID = domain.HearingID(rec.Congress, chamber, systemCode, normDate)
	rec.Extras["chamber"] = chamber
	rec.Extras["date"] = normDate

	comm := map[string]any{"system_code": strings.ToLower(systemCode)}
	if committee != nil {
		if n, ok := stringField(committee, "name"); ok {
			comm["name"] = collapseSpace(n)
		}
		if u, ok := stringField(committee, "url"); ok && strings.HasPrefix(u, "https://") {
			comm["url"] = u
		}
	}
	rec.Extras["committee"] = comm

	if v, ok := stringField(raw, "time"); ok {
		rec.Extras["time"] = v
	}
	if v, ok := stringField(raw, "location"); ok {
		rec.Extras["location"] = collapseSpace(v)
	}
	if v, ok := stringField(raw, "title"); ok {
		rec.Extras["title"] = collapseSpace(v)
	}
	copyList(rec, raw, "witnesses", "witnesses")
	return rec, nil
}

func normalizeNomination(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyNomination, raw)
	if verr != nil {
		return nil, verr
	}
	number, ok := intField(raw, "number", "nomination_number", "nominationNumber")
	if !ok {
		return nil, &InvalidError{Family: domain.FamilyNomination, Fields: []string{"nomination_number"}, Reason: "missing required fields"}
	}
	part, _ := stringField(raw, "partNumber", "part_number")

	parts := []string{strconv.Itoa(number)}
	if part != "" {
		parts = append(parts, part)
	}
	rec.ID = domain.GenericID(domain.FamilyNomination, rec.Congress, parts...)
	rec.Extras["nomination_number"] = number
	if part != "" {
		rec.Extras["part_number"] = part
	}
	if v, ok := stringField(raw, "organization"); ok {
		rec.Extras["organization"] = collapseSpace(v)
	}
	if v, ok := stringField(raw, "description"); ok {
		rec.Extras["description"] = collapseSpace(v)
	}
	if d, ok := stringField(raw, "receivedDate", "received_date"); ok {
		if norm, err := domain.NormalizeDate(d); err == nil {
			rec.Extras["received_date"] = norm
		}
	}
	return rec, nil
}

func normalizeTreaty(raw map[string]any) (*domain.Record, error) {
	rec, verr := base(domain.FamilyTreaty, raw)
	if verr != nil {
		return nil, verr
	}
	number, ok := intField(raw, "number", "treaty_number", "treatyNumber")
	if !ok {
		return nil, &InvalidError{Family: domain.FamilyTreaty, Fields: []string{"treaty_number"}, Reason: "missing required fields"}
	}
	suffix, _ := stringField(raw, "suffix")

	parts := []string{strconv.Itoa(number)}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	rec.ID = domain.GenericID(domain.FamilyTreaty, rec.Congress, parts...)
	rec.Extras["treaty_number"] = number
	if suffix != "" {
		rec.Extras["suffix"] = strings.ToLower(suffix)
	}
	if v, ok := stringField(raw, "topic"); ok {
		rec.Extras["topic"] = collapseSpace(v)
	}
	if v, ok := stringField(raw, "transmittedDate", "transmitted_date"); ok {
		if norm, err := domain.NormalizeDate(v); err == nil {
			rec.Extras["transmitted_date"] = norm
		}
	}
	return rec, nil
}

// genericIDKeys lists, per remaining family, the upstream keys tried in
// order when synthesizing the deterministic identifier suffix.
var genericIDKeys = [][2]string{
	{"citation", "citation"},
	{"number", "number"},
	{"jacketNumber", "jacket_number"},
	{"communicationNumber", "communication_number"},
	{"bioguideId", "bioguide_id"},
	{"volumeNumber", "volume_number"},
	{"name", "name"},
}

func normalizeGeneric(f domain.Family, raw map[string]any) (*domain.Record, error) {
	rec, verr := base(f, raw)
	if verr != nil {
		return nil, verr
	}

	var idPart, extraKey string
	for _, cand := range genericIDKeys {
		if v, ok := stringField(raw, cand[0], cand[1]); ok {
			idPart, extraKey = v, cand[1]
			break
		}
		if n, ok := intField(raw, cand[0], cand[1]); ok {
			idPart, extraKey = strconv.Itoa(n), cand[1]
			break
		}
	}
	if idPart == "" {
		return nil, &InvalidError{Family: f, Fields: []string{"id"}, Reason: "no identifying attribute present"}
	}
	rec.ID = domain.GenericID(f, rec.Congress, idPart)
	rec.Extras[extraKey] = strings.ToLower(strings.TrimSpace(idPart))

	if chamber, ok := stringField(raw, "chamber", "originChamber"); ok {
		norm, cerr := normalizeChamber(chamber)
		if cerr != nil {
			return nil, &InvalidError{Family: f, Fields: []string{"chamber"}, Reason: cerr.Error()}
		}
		rec.Extras["chamber"] = norm
	}
	for _, key := range []string{"title", "name", "description", "topic"} {
		if key == extraKey {
			continue
		}
		if v, ok := stringField(raw, key); ok {
			rec.Extras[key] = collapseSpace(v)
		}
	}
	for rawKey, canonKey := range map[string]string{"date": "date", "issueDate": "issue_date", "reportDate": "report_date"} {
		if v, ok := stringField(raw, rawKey, canonKey); ok {
			if norm, err := domain.NormalizeDate(v); err == nil {
				rec.Extras[canonKey] = norm
			}
		}
	}
	return rec, nil
}

var billTypes = map[string]struct{}{
	"hr": {}, "s": {}, "hjres": {}, "sjres": {},
	"hconres": {}, "sconres": {}, "hres": {}, "sres": {},
}

func validBillType(t string) bool {
	_, ok := billTypes[t]
	return ok
}

func normalizeChamber(s string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(s))
	switch c {
	case "h":
		c = domain.ChamberHouse
	case "s":
		c = domain.ChamberSenate
	}
	if !domain.ValidChamber(c) {
		return "", fmt.Errorf("chamber %q not one of house/senate/joint", s)
	}
	return c, nil
}

// stringField returns the first non-empty trimmed string under any of the
// candidate keys.
func stringField(raw map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, oks := v.(string); oks {
				s = strings.TrimSpace(s)
				if s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func intField(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func mapField(raw map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if m, okm := v.(map[string]any); okm {
				return m
			}
		}
	}
	return nil
}

func listField(raw map[string]any, key string) []any {
	if v, ok := raw[key]; ok {
		if l, okl := v.([]any); okl {
			return l
		}
	}
	return nil
}

func copyList(rec *domain.Record, raw map[string]any, rawKey, canonKey string) {
	list := listField(raw, rawKey)
	if list == nil {
		return
	}
	cleaned := cleanList(list)
	if len(cleaned) > 0 {
		rec.Extras[canonKey] = cleaned
	}
}

// cleanMap trims strings and drops nils and empties, recursively.
func cleanMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if cv, keep := cleanValue(v); keep {
			out[k] = cv
		}
	}
	return out
}

func cleanList(l []any) []any {
	out := make([]any, 0, len(l))
	for _, v := range l {
		if cv, keep := cleanValue(v); keep {
			out = append(out, cv)
		}
	}
	return out
}

func cleanValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case map[string]any:
		m := cleanMap(t)
		return m, len(m) > 0
	case []any:
		l := cleanList(t)
		return l, len(l) > 0
	default:
		return v, true
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
