package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKind(t *testing.T) {
	for _, k := range EvaluationKinds {
		assert.True(t, ValidKind(k), "kind %s should be valid", k)
	}
	assert.True(t, ValidKind(AgentCompare))
	assert.False(t, ValidKind("background"))
	assert.False(t, ValidKind(""))
}

func TestDecodeDetails_TaggedVariants(t *testing.T) {
	tests := []struct {
		kind AgentKind
		raw  string
		want any
	}{
		{
			kind: AgentEnglish,
			raw:  `{"exemption":true,"test_type":null,"test_overall":null}`,
			want: &EnglishDetails{Exemption: true},
		},
		{
			kind: AgentDegree,
			raw:  `{"meets_requirement":false,"qs_rank":850,"institution":"Example University"}`,
			want: &DegreeDetails{MeetsRequirement: boolPtr(false), QSRank: intPtr(850), Institution: "Example University"},
		},
		{
			kind: AgentDetector,
			raw:  `{"country_name":"China","country_code_iso3":"CHN"}`,
			want: &DetectorDetails{CountryName: strPtr("China"), CountryCodeISO3: strPtr("CHN")},
		},
		{
			kind: AgentCompare,
			raw:  `{"winner":"B","reason":"stronger degree"}`,
			want: &CompareDetails{Winner: "B", Reason: "stronger degree"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := DecodeDetails(tt.kind, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDetails_UnknownKind(t *testing.T) {
	_, err := DecodeDetails("background", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent kind")
}

func TestDetailsMap_MalformedPayload(t *testing.T) {
	r := AgentResult{Kind: AgentEnglish, Details: json.RawMessage(`not json`)}
	assert.Empty(t, r.DetailsMap())

	r = AgentResult{Kind: AgentEnglish}
	assert.Empty(t, r.DetailsMap())

	r = AgentResult{Kind: AgentDegree, Details: json.RawMessage(`{"qs_rank":42}`)}
	m := r.DetailsMap()
	assert.Equal(t, float64(42), m["qs_rank"])
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-1))
	assert.Equal(t, 10.0, ClampScore(11.5))
	assert.Equal(t, 7.5, ClampScore(7.5))
}

func boolPtr(b bool) *bool        { return &b }
func intPtr(i int) *int           { return &i }
func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
