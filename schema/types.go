package schema

// ExecutionToken identifies one execution run.
type ExecutionToken string

// StreamKey identifies one multiplexed sub-stream within a run.
type StreamKey string

// AggregateKey is the synthetic key carrying the combined output of a run.
const AggregateKey StreamKey = "all"

// AggregateTitle is the display title used for AggregateKey when none is supplied.
const AggregateTitle = "all hosts"

// Geometry is the visible size of a terminal surface.
type Geometry struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Cols > 0 && g.Rows > 0
}
