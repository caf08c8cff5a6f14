package metrics

// Provider is the metrics surface the bridge emits through. The no-op
// implementation keeps metrics optional.
type Provider interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
}

type Noop struct{}

func (Noop) SetGauge(string, float64)   {}
func (Noop) IncCounter(string, float64) {}
