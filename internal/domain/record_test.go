package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilies(t *testing.T) {
	families := Families()
	assert.Len(t, families, 18)

	// Stable order: bill first, congress last.
	assert.Equal(t, FamilyBill, families[0])
	assert.Equal(t, FamilyCongress, families[len(families)-1])

	for _, f := range families {
		assert.True(t, f.Valid(), "family %s should be valid", f)
	}
	assert.False(t, Family("senator").Valid())
	assert.False(t, Family("").Valid())
}

func TestParseFamily(t *testing.T) {
	f, ok := ParseFamily("daily-congressional-record")
	require.True(t, ok)
	assert.Equal(t, FamilyDailyRecord, f)

	_, ok = ParseFamily("bills")
	assert.False(t, ok)
}

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("2024-01-20"))
	assert.True(t, ValidDate(MinDate))

	assert.False(t, ValidDate("1789-03-03"), "before the 1st Congress")
	assert.False(t, ValidDate("2024-02-30"))
	assert.False(t, ValidDate("2024-1-2"))
	assert.False(t, ValidDate("20240120"))
	assert.False(t, ValidDate(""))
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-01-20":                "2024-01-20",
		"2024-01-20T14:01:02Z":      "2024-01-20",
		"2024-01-20T14:01:02-05:00": "2024-01-20",
		"  2024-01-20 ":             "2024-01-20",
	}
	for in, want := range cases {
		got, err := NormalizeDate(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "January 20, 2024", "2024/01/20"} {
		_, err := NormalizeDate(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestDeterministicIDs(t *testing.T) {
	assert.Equal(t, "118-hr-3076", BillID(118, "HR", 3076))
	assert.Equal(t, "117-samdt-2137", AmendmentID(117, "SAmdt", 2137))
	assert.Equal(t, "118-house-hsju00", CommitteeID(118, "house", "HSJU00"))
	assert.Equal(t, "118-senate-ssga00-2024-03-12", HearingID(118, "senate", "SSGA00", "2024-03-12"))
	assert.Equal(t, "118-treaty-3-a", GenericID(FamilyTreaty, 118, "3", "A"))
	assert.Equal(t, "118-member-b001230", GenericID(FamilyMember, 118, " B001230 "))
}

func TestRecordItem(t *testing.T) {
	rec := &Record{
		ID:         "118-hr-1",
		Type:       FamilyBill,
		Congress:   118,
		UpdateDate: "2024-01-20",
		Version:    SchemaVersion,
		URL:        "https://api.congress.gov/v3/bill/118/hr/1",
		Extras: map[string]any{
			"title": "Lower Energy Costs Act",
			// Extras must never shadow a fixed attribute.
			"id": "bogus",
		},
	}

	item := rec.Item()
	assert.Equal(t, "118-hr-1", item["id"])
	assert.Equal(t, "bill", item["type"])
	assert.Equal(t, 118, item["congress"])
	assert.Equal(t, "2024-01-20", item["update_date"])
	assert.Equal(t, 1, item["version"])
	assert.Equal(t, "Lower Energy Costs Act", item["title"])

	rec.URL = ""
	item = rec.Item()
	_, ok := item["url"]
	assert.False(t, ok, "empty url must be absent, not empty string")
}

func TestValidChamber(t *testing.T) {
	assert.True(t, ValidChamber(ChamberHouse))
	assert.True(t, ValidChamber(ChamberSenate))
	assert.True(t, ValidChamber(ChamberJoint))
	assert.False(t, ValidChamber("Plenary"))
	assert.False(t, ValidChamber("House"))
}
