package inspection

import (
	"github.com/google/uuid"

	"sunforge-server/internal/domain/image"
)

// MinRegionSide is the smallest width or height, in percent, a region may
// have so that its overlay stays visible.
const MinRegionSide = 5.0

// SchemaName identifies the result schema to providers that require a name.
const SchemaName = "panel_inspection_result"

// Instruction steers the model through every category in the taxonomy.
const Instruction = `You are a senior solar panel maintenance expert for the Sun Forge monitoring platform. Inspect this photo and report ALL visible problems.

Respond only with data that matches the provided schema. Be thorough and realistic.

Scan the panel systematically from top to bottom, left to right, and check for:

1. DUST & DIRT (dust_accumulation): haze, dirt streaks, sand, pollen. Set dustLevel to low, medium or heavy.
2. GLASS CRACKS (glass_cracks): hairline fractures, spider-web patterns, impact points.
3. BIRD DROPPINGS (bird_droppings): white or grey spots, splatter, dried deposits that can cause hotspots.
4. SHADING (shading): shadows from trees, buildings, cables, uneven lighting across cells.
5. PHYSICAL DAMAGE (physical_damage): dents, broken glass, frame damage, bent edges.
6. DISCOLORATION (discoloration): browning, yellowed encapsulant, uneven cell color.
7. HOTSPOTS (hotspot): dark burn marks, localized browning, melted areas. Treat as a fire hazard.
8. DELAMINATION (delamination): bubbling, peeling layers, trapped air pockets.
9. MOISTURE INGRESS (moisture_ingress): foggy areas, condensation inside the laminate, water marks.
10. WIRING ISSUES (wiring_visible): exposed wires, damaged junction box, loose connectors.
11. CORROSION (corrosion): rust on the frame, oxidized connectors, green patina.
12. SNAIL TRAILS (snail_trail): silvery or brown lines along cell edges.

For EACH issue found:
- Place the region on the ACTUAL location: x and y are the top-left corner, width and height the size, all as a percentage (0-100) of the image. Width and height are at least 5.
- Give a specific, actionable solution in 2-4 steps, including safety precautions.
- Estimate the power impact realistically, for example "5-10% power loss".
- Set confidenceScore from image clarity and how clearly the issue is visible. If the photo is blurry, dark or low resolution, still report what you see with a lower confidence instead of leaving it out.
- Set dustLevel to null unless the issue is dust related.

Always return at least one issue. If the panel looks clean, return a single "no_issue" entry with severityLevel "none", recommendedAction "no_action", region null, and maintenance tips in the solution.

If the photo does NOT show a solar panel, still return a result: explain this in the summary, set overallCondition to "poor" and use a single "no_issue" entry.`

// Request is one inference call: an image plus the fixed instruction and
// schema. It is built per inspection and not modified afterwards.
type Request struct {
	ID          string
	Payload     *image.Payload
	Instruction string
	Schema      map[string]any
}

// NewRequest wraps payload with the inspection contract.
func NewRequest(payload *image.Payload) *Request {
	return &Request{
		ID:          uuid.NewString(),
		Payload:     payload,
		Instruction: Instruction,
		Schema:      ResultSchema(),
	}
}

func enumOf[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func percent() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100}
}

// ResultSchema returns the JSON schema a provider must satisfy. Every
// property is required and nullable fields are expressed as a null union so
// the schema is accepted by strict structured-output modes.
func ResultSchema() map[string]any {
	region := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":      percent(),
			"y":      percent(),
			"width":  map[string]any{"type": "number", "minimum": MinRegionSide, "maximum": 100},
			"height": map[string]any{"type": "number", "minimum": MinRegionSide, "maximum": 100},
		},
		"required":             []any{"x", "y", "width", "height"},
		"additionalProperties": false,
	}

	issue := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"issueType":         map[string]any{"type": "string", "enum": enumOf(IssueTypes), "description": "The type of issue detected on the panel"},
			"severityLevel":     map[string]any{"type": "string", "enum": enumOf(Severities)},
			"dustLevel":         map[string]any{"type": []any{"string", "null"}, "enum": append(enumOf(DustLevels), nil), "description": "Dust level, null if not dust related"},
			"recommendedAction": map[string]any{"type": "string", "enum": enumOf(Actions)},
			"confidenceScore":   percent(),
			"description":       map[string]any{"type": "string", "description": "1-2 sentence description of the finding"},
			"solution":          map[string]any{"type": "string", "description": "2-4 step solution"},
			"estimatedImpact":   map[string]any{"type": "string", "description": "Estimated impact on power output"},
			"region":            map[string]any{"anyOf": []any{region, map[string]any{"type": "null"}}},
		},
		"required": []any{
			"issueType", "severityLevel", "dustLevel", "recommendedAction", "confidenceScore",
			"description", "solution", "estimatedImpact", "region",
		},
		"additionalProperties": false,
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"overallCondition":        map[string]any{"type": "string", "enum": enumOf(Conditions)},
			"overallConfidence":       percent(),
			"summary":                 map[string]any{"type": "string", "description": "3-5 sentence summary of findings"},
			"estimatedEfficiencyLoss": percent(),
			"maintenancePriority":     map[string]any{"type": "string", "enum": enumOf(Priorities)},
			"issues":                  map[string]any{"type": "array", "items": issue, "minItems": 1},
		},
		"required": []any{
			"overallCondition", "overallConfidence", "summary",
			"estimatedEfficiencyLoss", "maintenancePriority", "issues",
		},
		"additionalProperties": false,
	}
}
