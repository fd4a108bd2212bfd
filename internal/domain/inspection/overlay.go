package inspection

import (
	"image"
	"math"
	"sync"
)

// Overlay is the drawable rectangle of one defect. Index is its position
// among overlays and IssueIndex its position in Result.Issues.
type Overlay struct {
	Index      int       `json:"index"`
	IssueIndex int       `json:"issueIndex"`
	IssueType  IssueType `json:"issueType"`
	Label      string    `json:"label"`
	Severity   Severity  `json:"severityLevel"`
	Color      string    `json:"color"`
	Region     Region    `json:"region"`
}

// Pixels converts the percentage region to a rectangle on an image of the
// given displayed size, clamped to its bounds.
func (o Overlay) Pixels(width, height int) image.Rectangle {
	x0 := scale(o.Region.X, width)
	y0 := scale(o.Region.Y, height)
	x1 := scale(o.Region.X+o.Region.Width, width)
	y1 := scale(o.Region.Y+o.Region.Height, height)
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, width, height))
}

func scale(percent float64, size int) int {
	return int(math.Round(percent / 100 * float64(size)))
}

// SeverityColor is the marker colour used for overlays and finding badges.
func SeverityColor(s Severity) string {
	switch s {
	case SeverityHigh:
		return "#ef4444"
	case SeverityMedium:
		return "#f97316"
	case SeverityLow:
		return "#eab308"
	default:
		return "#22c55e"
	}
}

// OverlayMap pairs the Nth defect of a result with the Nth overlay. no_issue
// entries take no part in the pairing. The map is fixed once built.
type OverlayMap struct {
	overlays []Overlay
	byIssue  map[int]int
}

// MapOverlays builds the overlay map for r in emission order.
func MapOverlays(r *Result) *OverlayMap {
	m := &OverlayMap{byIssue: make(map[int]int)}
	if r == nil {
		return m
	}
	for i, is := range r.Issues {
		if !is.IsDefect() {
			continue
		}
		var region Region
		if is.Region != nil {
			region = *is.Region
		}
		idx := len(m.overlays)
		m.overlays = append(m.overlays, Overlay{
			Index:      idx,
			IssueIndex: i,
			IssueType:  is.IssueType,
			Label:      is.IssueType.Label(),
			Severity:   is.Severity,
			Color:      SeverityColor(is.Severity),
			Region:     region,
		})
		m.byIssue[i] = idx
	}
	return m
}

func (m *OverlayMap) Len() int { return len(m.overlays) }

// Overlays returns a copy of the overlays in index order.
func (m *OverlayMap) Overlays() []Overlay {
	out := make([]Overlay, len(m.overlays))
	copy(out, m.overlays)
	return out
}

// At returns the overlay at index i.
func (m *OverlayMap) At(i int) (Overlay, bool) {
	if i < 0 || i >= len(m.overlays) {
		return Overlay{}, false
	}
	return m.overlays[i], true
}

// ForIssue returns the overlay for the issue at position issueIndex in
// Result.Issues. no_issue entries have none.
func (m *OverlayMap) ForIssue(issueIndex int) (Overlay, bool) {
	idx, ok := m.byIssue[issueIndex]
	if !ok {
		return Overlay{}, false
	}
	return m.overlays[idx], true
}

// Finding is one row of the findings list shown next to the image.
type Finding struct {
	Index         int    `json:"index"`
	Issue         Issue  `json:"issue"`
	Label         string `json:"label"`
	Color         string `json:"color"`
	IsHighlighted bool   `json:"isHighlighted"`
}

// Highlighter tracks which defect is hovered. Hovering an overlay or its
// finding highlights both, since they share an index.
type Highlighter struct {
	mu     sync.Mutex
	m      *OverlayMap
	issues []Issue
	active int
}

func NewHighlighter(r *Result, m *OverlayMap) *Highlighter {
	if m == nil {
		m = MapOverlays(r)
	}
	h := &Highlighter{m: m, active: -1}
	if r != nil {
		h.issues = r.Issues
	}
	return h
}

// HoverOverlay highlights overlay i. Out-of-range indices clear the
// highlight.
func (h *Highlighter) HoverOverlay(i int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.m.At(i); ok {
		h.active = i
		return
	}
	h.active = -1
}

// HoverIssue highlights the overlay of the issue at issueIndex. Hovering a
// no_issue entry clears the highlight.
func (h *Highlighter) HoverIssue(issueIndex int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.m.ForIssue(issueIndex); ok {
		h.active = o.Index
		return
	}
	h.active = -1
}

func (h *Highlighter) Clear() {
	h.mu.Lock()
	h.active = -1
	h.mu.Unlock()
}

// Active returns the highlighted overlay index.
func (h *Highlighter) Active() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active, h.active >= 0
}

// Findings lists one row per overlay with the current highlight state.
func (h *Highlighter) Findings() []Finding {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Finding, 0, h.m.Len())
	for _, o := range h.m.overlays {
		var is Issue
		if o.IssueIndex < len(h.issues) {
			is = h.issues[o.IssueIndex]
		}
		out = append(out, Finding{
			Index:         o.Index,
			Issue:         is,
			Label:         o.Label,
			Color:         o.Color,
			IsHighlighted: o.Index == h.active,
		})
	}
	return out
}
