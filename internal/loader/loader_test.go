package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/stepflow/internal/planner"
)

const labelPlanJSON = `{
  "name": "boxed warning",
  "steps": [
    {"index": 1, "method": "GET", "path": "/api/Label/search",
     "queryParameters": {"genericName": "lisinopril", "pageSize": 1},
     "outputMapping": {"documentGuid": "$[0].documentGUID"}},
    {"index": 2, "method": "GET", "path": "/api/Label/section/content/{{documentGuid}}",
     "dependsOn": 1, "skipIfPreviousHasResults": null}
  ]
}`

func TestParsePlan_JSON(t *testing.T) {
	plan, err := ParsePlan([]byte(labelPlanJSON), ".json")
	require.NoError(t, err)

	assert.Equal(t, "boxed warning", plan.Name)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "$[0].documentGUID", plan.Steps[0].OutputMapping["documentGuid"])
	assert.Equal(t, float64(1), plan.Steps[0].QueryParameters["pageSize"])
	require.NotNil(t, plan.Steps[1].DependsOn)
	assert.Equal(t, 1, *plan.Steps[1].DependsOn)
	assert.Nil(t, plan.Steps[1].SkipIfPreviousHasResults)
}

func TestParsePlan_RepairsFencedJSON(t *testing.T) {
	raw := "```json\n" + `{
  "steps": [
    {"index": 1, "method": "GET", "path": "/api/Label/search",},
  ],
}` + "\n```"

	plan, err := ParsePlan([]byte(raw), "")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "/api/Label/search", plan.Steps[0].Path)
}

func TestParsePlan_BareArray(t *testing.T) {
	plan, err := ParsePlan([]byte(`[{"index": 1, "path": "/a"}, {"index": 2, "path": "/b", "dependsOn": 1}]`), ".json")
	require.NoError(t, err)
	assert.Empty(t, plan.Name)
	assert.Len(t, plan.Steps, 2)
}

func TestParsePlan_YAML(t *testing.T) {
	raw := `
name: yaml plan
steps:
  - index: 1
    method: get
    path: /api/Label/search
    queryParameters:
      genericName: "{{drug}}"
  - index: 2
    path: /api/Label/{{id}}
    dependsOn: 1
    optional: true
    timeout: 5s
`
	plan, err := ParsePlan([]byte(raw), ".yaml")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "get", plan.Steps[0].Method)
	assert.True(t, plan.Steps[1].Optional)
	assert.Equal(t, "5s", plan.Steps[1].Timeout)
}

func TestParsePlan_Hjson(t *testing.T) {
	raw := `{
  # planner output
  steps: [
    {
      index: 1
      path: /api/Label/search
      outputMapping: {
        setId: setid
      }
    }
  ]
}`
	plan, err := ParsePlan([]byte(raw), ".hjson")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "/api/Label/search", plan.Steps[0].Path)
	assert.Equal(t, "setid", plan.Steps[0].OutputMapping["setId"])
}

func TestParsePlan_SchemaViolation(t *testing.T) {
	_, err := ParsePlan([]byte(`{"steps": [{"index": "one", "path": "/a"}]}`), ".json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, planner.ErrInvalidPlan))

	var invalid *planner.InvalidPlanError
	require.True(t, errors.As(err, &invalid))
	assert.NotEmpty(t, invalid.Problems)
}

func TestParsePlan_Empty(t *testing.T) {
	_, err := ParsePlan([]byte("  \n"), ".json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLoadPlan_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(labelPlanJSON), 0o644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte("drug: lisinopril\npageSize: 2\n"), 0o644))

	vars, err := LoadVariables(path, []string{"drug=enalapril", "lang=en"})
	require.NoError(t, err)
	assert.Equal(t, "enalapril", vars["drug"])
	assert.Equal(t, "en", vars["lang"])
	assert.Equal(t, 2, vars["pageSize"])
}

func TestParseVariables_Invalid(t *testing.T) {
	_, err := ParseVariables([]string{"ok=1", "broken", "=x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "=x")
}
