package predict

// Column names shared with the exported pipelines
const (
	ColumnBlurb   = "blurb"
	ColumnBackers = "backers"
	ColumnGoal    = "goal"
)

// FeatureRow is the single-row table the pipelines consume
type FeatureRow struct {
	Blurb   string
	Backers float64
	Goal    float64
}

// NewFeatureRow builds the row from a validated request
func NewFeatureRow(req Request) FeatureRow {
	return FeatureRow{
		Blurb:   req.Blurb,
		Backers: float64(req.Backers),
		Goal:    req.Goal.InexactFloat64(),
	}
}

// Text implements pipeline.Row
func (r FeatureRow) Text(column string) (string, bool) {
	if column == ColumnBlurb {
		return r.Blurb, true
	}
	return "", false
}

// Number implements pipeline.Row
func (r FeatureRow) Number(column string) (float64, bool) {
	switch column {
	case ColumnBackers:
		return r.Backers, true
	case ColumnGoal:
		return r.Goal, true
	}
	return 0, false
}
