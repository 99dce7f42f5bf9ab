// Package telemetry holds the per-message performance sample series emitted
// by the generation pipeline.
package telemetry

// Samples carries the three named series reported for one generation turn:
// processing latency, time to first byte, and character counts. Each series
// is append-only; accumulation is per-series concatenation in arrival order.
type Samples struct {
	Processing      []float64 `json:"processing,omitempty"`
	TimeToFirstByte []float64 `json:"time_to_first_byte,omitempty"`
	Characters      []float64 `json:"characters,omitempty"`
}

// Append concatenates other's series onto s.
func (s *Samples) Append(other Samples) {
	s.Processing = append(s.Processing, other.Processing...)
	s.TimeToFirstByte = append(s.TimeToFirstByte, other.TimeToFirstByte...)
	s.Characters = append(s.Characters, other.Characters...)
}

// Empty reports whether no samples have been recorded.
func (s Samples) Empty() bool {
	return len(s.Processing) == 0 && len(s.TimeToFirstByte) == 0 && len(s.Characters) == 0
}

// Clone returns a copy that shares no backing arrays with s.
func (s Samples) Clone() Samples {
	var c Samples
	if len(s.Processing) > 0 {
		c.Processing = append([]float64(nil), s.Processing...)
	}
	if len(s.TimeToFirstByte) > 0 {
		c.TimeToFirstByte = append([]float64(nil), s.TimeToFirstByte...)
	}
	if len(s.Characters) > 0 {
		c.Characters = append([]float64(nil), s.Characters...)
	}
	return c
}
