package inspection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hotspotJSON = `{
  "overallCondition": "poor",
  "overallConfidence": 82,
  "summary": "A hotspot is visible in the upper middle of the panel.",
  "estimatedEfficiencyLoss": 12.5,
  "maintenancePriority": "high",
  "issues": [{
    "issueType": "hotspot",
    "severityLevel": "high",
    "dustLevel": null,
    "recommendedAction": "call_technician",
    "confidenceScore": 88,
    "description": "Dark burn mark on one cell.",
    "solution": "1. Disconnect the string. 2. Call a certified technician.",
    "estimatedImpact": "10-15% power loss",
    "region": {"x": 40, "y": 20, "width": 15, "height": 10}
  }]
}`

const cleanJSON = `{
  "overallCondition": "good",
  "overallConfidence": 91,
  "summary": "The panel looks clean.",
  "estimatedEfficiencyLoss": 0,
  "maintenancePriority": "none",
  "issues": [{
    "issueType": "no_issue",
    "severityLevel": "none",
    "dustLevel": null,
    "recommendedAction": "no_action",
    "confidenceScore": 91,
    "description": "No visible defects.",
    "solution": "Clean twice a year.",
    "estimatedImpact": "none",
    "region": null
  }]
}`

func TestDecodeResultHotspot(t *testing.T) {
	res, err := DecodeResult([]byte(hotspotJSON))
	require.NoError(t, err)

	assert.Equal(t, ConditionPoor, res.OverallCondition)
	assert.Equal(t, PriorityHigh, res.MaintenancePriority)
	require.Len(t, res.Issues, 1)

	is := res.Issues[0]
	assert.Equal(t, IssueHotspot, is.IssueType)
	assert.Equal(t, SeverityHigh, is.Severity)
	assert.Nil(t, is.DustLevel)
	assert.Equal(t, ActionCallTechnician, is.RecommendedAction)
	require.NotNil(t, is.Region)
	assert.Equal(t, Region{X: 40, Y: 20, Width: 15, Height: 10}, *is.Region)
	assert.Equal(t, 1, res.DefectCount())
}

func TestDecodeResultCleanPanel(t *testing.T) {
	res, err := DecodeResult([]byte(cleanJSON))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Nil(t, res.Issues[0].Region)
	assert.Zero(t, res.DefectCount())
	assert.Empty(t, res.Defects())
}

func TestDecodeResultStripsCodeFence(t *testing.T) {
	res, err := DecodeResult([]byte("```json\n" + cleanJSON + "\n```"))
	require.NoError(t, err)
	assert.Equal(t, ConditionGood, res.OverallCondition)
}

func TestDecodeResultDustLevel(t *testing.T) {
	raw := strings.Replace(hotspotJSON, `"dustLevel": null`, `"dustLevel": "heavy"`, 1)
	res, err := DecodeResult([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, res.Issues[0].DustLevel)
	assert.Equal(t, DustHeavy, *res.Issues[0].DustLevel)
}

func TestDecodeResultEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", "```json\n\n```"} {
		_, err := DecodeResult([]byte(raw))
		assert.ErrorIs(t, err, ErrNoStructuredOutput, "input %q", raw)
	}
}

func TestDecodeResultRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		path string
	}{
		{"unknown issue type", `"issueType": "hotspot"`, `"issueType": "lightning"`, "issues[0].issueType"},
		{"unknown severity", `"severityLevel": "high"`, `"severityLevel": "extreme"`, "issues[0].severityLevel"},
		{"unknown dust level", `"dustLevel": null`, `"dustLevel": "some"`, "issues[0].dustLevel"},
		{"unknown action", `"call_technician"`, `"replace_panel"`, "issues[0].recommendedAction"},
		{"unknown condition", `"overallCondition": "poor"`, `"overallCondition": "broken"`, "overallCondition"},
		{"unknown priority", `"maintenancePriority": "high"`, `"maintenancePriority": "asap"`, "maintenancePriority"},
		{"confidence above 100", `"confidenceScore": 88`, `"confidenceScore": 120`, "issues[0].confidenceScore"},
		{"negative overall confidence", `"overallConfidence": 82`, `"overallConfidence": -1`, "overallConfidence"},
		{"efficiency loss above 100", `"estimatedEfficiencyLoss": 12.5`, `"estimatedEfficiencyLoss": 101`, "estimatedEfficiencyLoss"},
		{"region x above 100", `"x": 40`, `"x": 140`, "issues[0].region.x"},
		{"region too narrow", `"width": 15`, `"width": 2`, "issues[0].region.width"},
		{"region too short", `"height": 10`, `"height": 4.9`, "issues[0].region.height"},
		{"defect without region", `"region": {"x": 40, "y": 20, "width": 15, "height": 10}`, `"region": null`, "issues[0].region"},
		{"missing summary", `"summary": "A hotspot is visible in the upper middle of the panel.",`, ``, "summary"},
		{"unknown top-level field", `"issues": [{`, `"issues": [], "unused": [{`, "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Replace(hotspotJSON, tt.from, tt.to, 1)
			require.NotEqual(t, hotspotJSON, raw, "replacement did not apply")

			_, err := DecodeResult([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaViolation)

			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.path, se.Path)
		})
	}
}

func TestDecodeResultRejectsEmptyIssueList(t *testing.T) {
	raw := `{"overallCondition":"good","overallConfidence":90,"summary":"ok",` +
		`"estimatedEfficiencyLoss":0,"maintenancePriority":"none","issues":[]}`
	_, err := DecodeResult([]byte(raw))

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "issues", se.Path)
}

func TestDecodeResultRejectsUnknownFields(t *testing.T) {
	raw := strings.Replace(cleanJSON, `"summary"`, `"mood": "happy", "summary"`, 1)
	_, err := DecodeResult([]byte(raw))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestDecodedResultsStayInsideEnums(t *testing.T) {
	for _, raw := range []string{hotspotJSON, cleanJSON} {
		res, err := DecodeResult([]byte(raw))
		require.NoError(t, err)
		assert.NotEmpty(t, res.Issues)
		assert.True(t, res.OverallCondition.Valid())
		assert.True(t, res.MaintenancePriority.Valid())
		assert.InDelta(t, 50, res.OverallConfidence, 50)
		assert.InDelta(t, 50, res.EstimatedEfficiencyLoss, 50)
		for _, is := range res.Issues {
			assert.True(t, is.IssueType.Valid())
			assert.True(t, is.Severity.Valid())
			assert.True(t, is.RecommendedAction.Valid())
			if is.DustLevel != nil {
				assert.True(t, is.DustLevel.Valid())
			}
			assert.InDelta(t, 50, is.Confidence, 50)
			if is.Region != nil {
				assert.GreaterOrEqual(t, is.Region.Width, MinRegionSide)
				assert.GreaterOrEqual(t, is.Region.Height, MinRegionSide)
			}
		}
	}
}

func TestResultSchemaIsStrict(t *testing.T) {
	s := ResultSchema()
	assert.Equal(t, false, s["additionalProperties"])

	props := s["properties"].(map[string]any)
	issues := props["issues"].(map[string]any)
	assert.Equal(t, 1, issues["minItems"])

	item := issues["items"].(map[string]any)
	required := item["required"].([]any)
	assert.Len(t, required, len(item["properties"].(map[string]any)))

	types := item["properties"].(map[string]any)["issueType"].(map[string]any)["enum"].([]any)
	assert.Len(t, types, len(IssueTypes))
	assert.Contains(t, types, "snail_trail")
	assert.Contains(t, types, "no_issue")
}
