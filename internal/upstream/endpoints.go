package upstream

import "github.com/capitolmirror/capitolmirror/internal/domain"

// endpointSpec maps a family onto its Congress.gov v3 list endpoint and the
// JSON key the response nests the record list under.
type endpointSpec struct {
	path    string
	listKey string
}

var endpoints = map[domain.Family]endpointSpec{
	domain.FamilyBill:            {"/bill", "bills"},
	domain.FamilyAmendment:       {"/amendment", "amendments"},
	domain.FamilyCommittee:       {"/committee", "committees"},
	domain.FamilyHearing:         {"/hearing", "hearings"},
	domain.FamilyNomination:      {"/nomination", "nominations"},
	domain.FamilyTreaty:          {"/treaty", "treaties"},
	domain.FamilyCommitteeReport: {"/committee-report", "reports"},
	domain.FamilyCommitteePrint:  {"/committee-print", "committeePrints"},
	domain.FamilyCommitteeMeet:   {"/committee-meeting", "committeeMeetings"},
	domain.FamilyRecord:          {"/congressional-record", "Results"},
	domain.FamilyDailyRecord:     {"/daily-congressional-record", "dailyCongressionalRecord"},
	domain.FamilyBoundRecord:     {"/bound-congressional-record", "boundCongressionalRecord"},
	domain.FamilyHouseComm:       {"/house-communication", "houseCommunications"},
	domain.FamilyHouseReq:        {"/house-requirement", "houseRequirements"},
	domain.FamilySenateComm:      {"/senate-communication", "senateCommunications"},
	domain.FamilyMember:          {"/member", "members"},
	domain.FamilySummary:         {"/summaries", "summaries"},
	domain.FamilyCongress:        {"/congress", "congresses"},
}

// EndpointPath returns the list endpoint path for a family.
func EndpointPath(f domain.Family) string {
	return endpoints[f].path
}

// ListKey returns the JSON response key holding a family's record list.
func ListKey(f domain.Family) string {
	return endpoints[f].listKey
}
