// Package quantize maps the 7-level discrete speed commands used by physical
// controllers onto the fractional velocities the device protocol expects.
package quantize

// Axis identifies one controllable motion axis.
type Axis int

const (
	Pan Axis = iota
	Tilt
	Zoom
)

// Table holds the three speed magnitudes for one axis, addressed by |level|.
type Table struct {
	Low    float64 // |level| == 1
	Medium float64 // |level| == 2
	High   float64 // |level| == 3
}

// DefaultTable is the magnitude set every axis starts with.
var DefaultTable = Table{Low: 0.2, Medium: 0.5, High: 1.0}

// Quantizer converts discrete levels in -3..+3 to fractional velocities in
// -1.0..1.0 using a per-axis lookup table. Axes share the default table but
// can diverge independently.
type Quantizer struct {
	tables [3]Table
}

// New creates a Quantizer with the default table on every axis.
func New() *Quantizer {
	return &Quantizer{tables: [3]Table{DefaultTable, DefaultTable, DefaultTable}}
}

// NewWithTables creates a Quantizer with explicit per-axis tables.
func NewWithTables(pan, tilt, zoom Table) *Quantizer {
	return &Quantizer{tables: [3]Table{pan, tilt, zoom}}
}

// Quantize maps a discrete level to a signed fractional velocity. Any level
// outside {-3,-2,-1,1,2,3}, or an unknown axis, yields exactly 0.0. The
// function is pure and total; there is no error path.
func (q *Quantizer) Quantize(axis Axis, level int) float64 {
	if axis < Pan || axis > Zoom {
		return 0.0
	}

	table := q.tables[axis]

	var magnitude float64
	switch level {
	case 1, -1:
		magnitude = table.Low
	case 2, -2:
		magnitude = table.Medium
	case 3, -3:
		magnitude = table.High
	default:
		return 0.0
	}

	if level < 0 {
		return -magnitude
	}
	return magnitude
}
