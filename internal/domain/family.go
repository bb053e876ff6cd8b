package domain

// Family identifies one of the Congress.gov resource categories the mirror
// tracks. Values double as the canonical `type` attribute on stored records.
type Family string

const (
	FamilyBill            Family = "bill"
	FamilyAmendment       Family = "amendment"
	FamilyCommittee       Family = "committee"
	FamilyHearing         Family = "hearing"
	FamilyNomination      Family = "nomination"
	FamilyTreaty          Family = "treaty"
	FamilyCommitteeReport Family = "committee-report"
	FamilyCommitteePrint  Family = "committee-print"
	FamilyCommitteeMeet   Family = "committee-meeting"
	FamilyRecord          Family = "congressional-record"
	FamilyDailyRecord     Family = "daily-congressional-record"
	FamilyBoundRecord     Family = "bound-congressional-record"
	FamilyHouseComm       Family = "house-communication"
	FamilyHouseReq        Family = "house-requirement"
	FamilySenateComm      Family = "senate-communication"
	FamilyMember          Family = "member"
	FamilySummary         Family = "summary"
	FamilyCongress        Family = "congress"
)

// Families returns every supported family in stable dispatch order. The
// scheduler relies on this order for tie-breaking, so it must not change
// between releases without a schema version bump.
func Families() []Family {
	return []Family{
		FamilyBill,
		FamilyAmendment,
		FamilyCommittee,
		FamilyHearing,
		FamilyNomination,
		FamilyTreaty,
		FamilyCommitteeReport,
		FamilyCommitteePrint,
		FamilyCommitteeMeet,
		FamilyRecord,
		FamilyDailyRecord,
		FamilyBoundRecord,
		FamilyHouseComm,
		FamilyHouseReq,
		FamilySenateComm,
		FamilyMember,
		FamilySummary,
		FamilyCongress,
	}
}

var familySet = func() map[Family]struct{} {
	set := make(map[Family]struct{})
	for _, f := range Families() {
		set[f] = struct{}{}
	}
	return set
}()

// Valid reports whether f is a known family tag.
func (f Family) Valid() bool {
	_, ok := familySet[f]
	return ok
}

func (f Family) String() string {
	return string(f)
}

// ParseFamily validates a user-supplied family tag.
func ParseFamily(s string) (Family, bool) {
	f := Family(s)
	return f, f.Valid()
}
