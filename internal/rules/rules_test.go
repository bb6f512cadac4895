package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/admissions-engine/internal/llm"
	"github.com/jonathan/admissions-engine/internal/types"
)

const validRuleSet = `{
	"name": "MSc Computer Science",
	"hard_requirements": [
		{"name": "degree-meets-class", "agent": "degree", "field": "meets_requirement", "op": "eq", "value": true},
		{"name": "qs-rank-cap", "agent": "degree", "field": "qs_rank", "op": "lte", "value": 800}
	],
	"weights": {"english": 0.1, "degree": 0.5, "academic": 0.15, "experience": 0.15, "ps_rl": 0.1},
	"checklists": {"english": ["IELTS 6.5 overall"]},
	"degree_requirement_class": "UPPER_SECOND",
	"english_level": "IELTS 6.5"
}`

func TestParseValidRuleSet(t *testing.T) {
	rs, err := Parse([]byte(validRuleSet))
	require.NoError(t, err)

	assert.Equal(t, "MSc Computer Science", rs.Name)
	require.Len(t, rs.HardRequirements, 2)
	assert.Equal(t, types.AgentDegree, rs.HardRequirements[0].Agent)
	assert.Equal(t, types.OpEquals, rs.HardRequirements[0].Op)
	assert.Equal(t, 0.5, rs.Weights[types.AgentDegree])
	assert.Equal(t, "UPPER_SECOND", rs.TargetDegreeClass)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`{"hard_requirements": []}`))
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}

func TestParseRejectsUnknownAgent(t *testing.T) {
	bad := `{
		"name": "x",
		"hard_requirements": [
			{"name": "r", "agent": "astrology", "field": "sign", "op": "eq", "value": "leo"}
		]
	}`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent")
}

func TestParseRejectsUnknownOp(t *testing.T) {
	bad := `{
		"name": "x",
		"hard_requirements": [
			{"name": "r", "agent": "degree", "field": "qs_rank", "op": "between", "value": 5}
		]
	}`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestParseRejectsNegativeWeight(t *testing.T) {
	bad := `{"name": "x", "weights": {"degree": -0.5}}`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"name": `))
	require.Error(t, err)
}

// scriptedClient plays back a fixed model response.
type scriptedClient struct {
	response string
	err      error
	prompts  []string
}

func (c *scriptedClient) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	return c.GenerateJSON(context.Background(), prompt, llm.TierStandard)
}

func (c *scriptedClient) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

func (c *scriptedClient) GetModel(llm.ModelTier) string { return "scripted" }
func (c *scriptedClient) Close() error                  { return nil }

func programmeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><main>
			<h1>MSc Data Science</h1>
			<p>Applicants need a 2:1 honours degree and IELTS 6.5 overall.</p>
		</main></body></html>`))
	}))
}

func TestImportFromURL(t *testing.T) {
	server := programmeServer(t)
	defer server.Close()

	client := &scriptedClient{response: "```json\n" + `{
		"programme_title": "MSc Data Science",
		"checklists": {
			"english": ["IELTS 6.5 overall"],
			"degree": ["2:1 honours degree"],
			"experience": [],
			"ps_rl": [],
			"academic": []
		},
		"degree_requirement_class": "UPPER_SECOND",
		"english_level": "IELTS 6.5"
	}` + "\n```"}

	rs, err := ImportFromURL(context.Background(), client, server.URL, []string{"prefer applicants with Python"})
	require.NoError(t, err)

	assert.Equal(t, "MSc Data Science", rs.Name)
	assert.Equal(t, server.URL, rs.SourceURL)
	assert.Equal(t, "UPPER_SECOND", rs.TargetDegreeClass)
	assert.Equal(t, "IELTS 6.5", rs.EnglishLevel)
	assert.Equal(t, []string{"IELTS 6.5 overall"}, rs.Checklists[types.AgentEnglish])
	assert.NotContains(t, rs.Checklists, types.AgentAcademic)
	assert.Equal(t, []string{"prefer applicants with Python"}, rs.CustomRequirements)

	// Page text and custom requirements reach the extractor
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "2:1 honours degree")
	assert.Contains(t, client.prompts[0], "prefer applicants with Python")
}

func TestImportFromURLFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := ImportFromURL(context.Background(), &scriptedClient{}, server.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch")
}

func TestImportFromURLBadExtraction(t *testing.T) {
	server := programmeServer(t)
	defer server.Close()

	client := &scriptedClient{response: "not json at all"}
	_, err := ImportFromURL(context.Background(), client, server.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode extraction")
}
