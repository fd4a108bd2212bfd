package inspection

import "slices"

type IssueType string

const (
	IssueDustAccumulation IssueType = "dust_accumulation"
	IssueGlassCracks      IssueType = "glass_cracks"
	IssueBirdDroppings    IssueType = "bird_droppings"
	IssueShading          IssueType = "shading"
	IssuePhysicalDamage   IssueType = "physical_damage"
	IssueDiscoloration    IssueType = "discoloration"
	IssueHotspot          IssueType = "hotspot"
	IssueDelamination     IssueType = "delamination"
	IssueMoistureIngress  IssueType = "moisture_ingress"
	IssueWiringVisible    IssueType = "wiring_visible"
	IssueCorrosion        IssueType = "corrosion"
	IssueSnailTrail       IssueType = "snail_trail"
	IssueNone             IssueType = "no_issue"
)

// IssueTypes lists the full taxonomy in prompt order.
var IssueTypes = []IssueType{
	IssueDustAccumulation,
	IssueGlassCracks,
	IssueBirdDroppings,
	IssueShading,
	IssuePhysicalDamage,
	IssueDiscoloration,
	IssueHotspot,
	IssueDelamination,
	IssueMoistureIngress,
	IssueWiringVisible,
	IssueCorrosion,
	IssueSnailTrail,
	IssueNone,
}

var issueLabels = map[IssueType]string{
	IssueDustAccumulation: "Dust Accumulation",
	IssueGlassCracks:      "Glass Cracks",
	IssueBirdDroppings:    "Bird Droppings",
	IssueShading:          "Shading Area",
	IssuePhysicalDamage:   "Physical Damage",
	IssueDiscoloration:    "Discoloration",
	IssueHotspot:          "Hotspot",
	IssueDelamination:     "Delamination",
	IssueMoistureIngress:  "Moisture Ingress",
	IssueWiringVisible:    "Exposed Wiring",
	IssueCorrosion:        "Corrosion",
	IssueSnailTrail:       "Snail Trails",
	IssueNone:             "No Issue Detected",
}

func (t IssueType) Valid() bool { return slices.Contains(IssueTypes, t) }

// Label is the human-readable name shown in findings lists.
func (t IssueType) Label() string {
	if l, ok := issueLabels[t]; ok {
		return l
	}
	return string(t)
}

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var Severities = []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh}

func (s Severity) Valid() bool { return slices.Contains(Severities, s) }

type DustLevel string

const (
	DustNone   DustLevel = "none"
	DustLow    DustLevel = "low"
	DustMedium DustLevel = "medium"
	DustHeavy  DustLevel = "heavy"
)

var DustLevels = []DustLevel{DustNone, DustLow, DustMedium, DustHeavy}

func (d DustLevel) Valid() bool { return slices.Contains(DustLevels, d) }

type Action string

const (
	ActionNone           Action = "no_action"
	ActionMonitor        Action = "monitor"
	ActionClean          Action = "clean"
	ActionCallTechnician Action = "call_technician"
)

var Actions = []Action{ActionNone, ActionMonitor, ActionClean, ActionCallTechnician}

func (a Action) Valid() bool { return slices.Contains(Actions, a) }

type Condition string

const (
	ConditionGood     Condition = "good"
	ConditionFair     Condition = "fair"
	ConditionPoor     Condition = "poor"
	ConditionCritical Condition = "critical"
)

var Conditions = []Condition{ConditionGood, ConditionFair, ConditionPoor, ConditionCritical}

func (c Condition) Valid() bool { return slices.Contains(Conditions, c) }

type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool { return slices.Contains(Priorities, p) }

// Region is a bounding box in percent of the image, origin top-left.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Issue is one finding. A no_issue entry confirms a clean panel and is never
// counted or drawn as a defect.
type Issue struct {
	IssueType         IssueType  `json:"issueType"`
	Severity          Severity   `json:"severityLevel"`
	DustLevel         *DustLevel `json:"dustLevel"`
	RecommendedAction Action     `json:"recommendedAction"`
	Confidence        float64    `json:"confidenceScore"`
	Description       string     `json:"description"`
	Solution          string     `json:"solution"`
	EstimatedImpact   string     `json:"estimatedImpact"`
	Region            *Region    `json:"region"`
}

func (i Issue) IsDefect() bool { return i.IssueType != IssueNone }

// Result is the structured outcome of one inspection. Issues keep the order
// in which the model emitted them.
type Result struct {
	OverallCondition        Condition `json:"overallCondition"`
	OverallConfidence       float64   `json:"overallConfidence"`
	Summary                 string    `json:"summary"`
	EstimatedEfficiencyLoss float64   `json:"estimatedEfficiencyLoss"`
	MaintenancePriority     Priority  `json:"maintenancePriority"`
	Issues                  []Issue   `json:"issues"`
}

// Defects returns the issues that are not no_issue, in emission order.
func (r *Result) Defects() []Issue {
	out := make([]Issue, 0, len(r.Issues))
	for _, is := range r.Issues {
		if is.IsDefect() {
			out = append(out, is)
		}
	}
	return out
}

func (r *Result) DefectCount() int {
	n := 0
	for _, is := range r.Issues {
		if is.IsDefect() {
			n++
		}
	}
	return n
}
