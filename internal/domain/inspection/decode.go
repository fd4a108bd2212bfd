package inspection

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	// ErrNoStructuredOutput means the provider answered without any object.
	ErrNoStructuredOutput = errors.New("no structured output")
	// ErrSchemaViolation means the provider answered with an object that does
	// not satisfy the result schema.
	ErrSchemaViolation = errors.New("structured output violates schema")
)

// SchemaError reports the first constraint a decoded result broke.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }

var strictJSON = sonic.Config{
	DisallowUnknownFields: true,
	ValidateString:        true,
}.Froze()

type wireRegion struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type wireIssue struct {
	IssueType         *IssueType  `json:"issueType"`
	Severity          *Severity   `json:"severityLevel"`
	DustLevel         *DustLevel  `json:"dustLevel"`
	RecommendedAction *Action     `json:"recommendedAction"`
	Confidence        *float64    `json:"confidenceScore"`
	Description       *string     `json:"description"`
	Solution          *string     `json:"solution"`
	EstimatedImpact   *string     `json:"estimatedImpact"`
	Region            *wireRegion `json:"region"`
}

type wireResult struct {
	OverallCondition        *Condition  `json:"overallCondition"`
	OverallConfidence       *float64    `json:"overallConfidence"`
	Summary                 *string     `json:"summary"`
	EstimatedEfficiencyLoss *float64    `json:"estimatedEfficiencyLoss"`
	MaintenancePriority     *Priority   `json:"maintenancePriority"`
	Issues                  []wireIssue `json:"issues"`
}

// DecodeResult parses provider output and checks it against the result
// schema. It never repairs a value: anything out of range, outside an enum,
// missing or unknown is rejected.
func DecodeResult(raw []byte) (*Result, error) {
	raw = stripFence(bytes.TrimSpace(raw))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoStructuredOutput
	}

	var w wireResult
	if err := strictJSON.Unmarshal(raw, &w); err != nil {
		return nil, &SchemaError{Path: "$", Reason: "not a valid result object: " + err.Error()}
	}

	res := &Result{}
	switch {
	case w.OverallCondition == nil:
		return nil, missing("overallCondition")
	case !w.OverallCondition.Valid():
		return nil, badEnum("overallCondition", string(*w.OverallCondition))
	case w.OverallConfidence == nil:
		return nil, missing("overallConfidence")
	case w.Summary == nil:
		return nil, missing("summary")
	case w.EstimatedEfficiencyLoss == nil:
		return nil, missing("estimatedEfficiencyLoss")
	case w.MaintenancePriority == nil:
		return nil, missing("maintenancePriority")
	case !w.MaintenancePriority.Valid():
		return nil, badEnum("maintenancePriority", string(*w.MaintenancePriority))
	}
	if err := checkPercent("overallConfidence", *w.OverallConfidence, 0); err != nil {
		return nil, err
	}
	if err := checkPercent("estimatedEfficiencyLoss", *w.EstimatedEfficiencyLoss, 0); err != nil {
		return nil, err
	}
	if len(w.Issues) == 0 {
		return nil, &SchemaError{Path: "issues", Reason: "must contain at least one entry"}
	}

	res.OverallCondition = *w.OverallCondition
	res.OverallConfidence = *w.OverallConfidence
	res.Summary = *w.Summary
	res.EstimatedEfficiencyLoss = *w.EstimatedEfficiencyLoss
	res.MaintenancePriority = *w.MaintenancePriority
	res.Issues = make([]Issue, 0, len(w.Issues))

	for i, wi := range w.Issues {
		is, err := decodeIssue(fmt.Sprintf("issues[%d]", i), wi)
		if err != nil {
			return nil, err
		}
		res.Issues = append(res.Issues, is)
	}
	return res, nil
}

func decodeIssue(path string, w wireIssue) (Issue, error) {
	switch {
	case w.IssueType == nil:
		return Issue{}, missing(path + ".issueType")
	case !w.IssueType.Valid():
		return Issue{}, badEnum(path+".issueType", string(*w.IssueType))
	case w.Severity == nil:
		return Issue{}, missing(path + ".severityLevel")
	case !w.Severity.Valid():
		return Issue{}, badEnum(path+".severityLevel", string(*w.Severity))
	case w.DustLevel != nil && !w.DustLevel.Valid():
		return Issue{}, badEnum(path+".dustLevel", string(*w.DustLevel))
	case w.RecommendedAction == nil:
		return Issue{}, missing(path + ".recommendedAction")
	case !w.RecommendedAction.Valid():
		return Issue{}, badEnum(path+".recommendedAction", string(*w.RecommendedAction))
	case w.Confidence == nil:
		return Issue{}, missing(path + ".confidenceScore")
	case w.Description == nil:
		return Issue{}, missing(path + ".description")
	case w.Solution == nil:
		return Issue{}, missing(path + ".solution")
	case w.EstimatedImpact == nil:
		return Issue{}, missing(path + ".estimatedImpact")
	}
	if err := checkPercent(path+".confidenceScore", *w.Confidence, 0); err != nil {
		return Issue{}, err
	}

	is := Issue{
		IssueType:         *w.IssueType,
		Severity:          *w.Severity,
		DustLevel:         w.DustLevel,
		RecommendedAction: *w.RecommendedAction,
		Confidence:        *w.Confidence,
		Description:       *w.Description,
		Solution:          *w.Solution,
		EstimatedImpact:   *w.EstimatedImpact,
	}

	if w.Region == nil {
		if is.IsDefect() {
			return Issue{}, missing(path + ".region")
		}
		return is, nil
	}

	r := w.Region
	switch {
	case r.X == nil:
		return Issue{}, missing(path + ".region.x")
	case r.Y == nil:
		return Issue{}, missing(path + ".region.y")
	case r.Width == nil:
		return Issue{}, missing(path + ".region.width")
	case r.Height == nil:
		return Issue{}, missing(path + ".region.height")
	}
	for _, c := range []struct {
		name  string
		value float64
		low   float64
	}{
		{"x", *r.X, 0},
		{"y", *r.Y, 0},
		{"width", *r.Width, MinRegionSide},
		{"height", *r.Height, MinRegionSide},
	} {
		if err := checkPercent(path+".region."+c.name, c.value, c.low); err != nil {
			return Issue{}, err
		}
	}
	is.Region = &Region{X: *r.X, Y: *r.Y, Width: *r.Width, Height: *r.Height}
	return is, nil
}

func checkPercent(path string, v, low float64) error {
	if v < low || v > 100 {
		return &SchemaError{Path: path, Reason: fmt.Sprintf("%g outside [%g, 100]", v, low)}
	}
	return nil
}

func missing(path string) error {
	return &SchemaError{Path: path, Reason: "required"}
}

func badEnum(path, value string) error {
	return &SchemaError{Path: path, Reason: fmt.Sprintf("%q is not an allowed value", value)}
}

// stripFence removes a surrounding markdown code fence, which some local
// models add around JSON even when asked not to.
func stripFence(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	body := raw[3:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return raw
	}
	body = bytes.TrimSpace(body)
	body, ok := bytes.CutSuffix(body, []byte("```"))
	if !ok {
		return raw
	}
	return bytes.TrimSpace(body)
}
