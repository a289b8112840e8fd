// Package tracking records experiment parameters and per-epoch metrics.
package tracking

// Tracker receives the parameters of a run and its metrics epoch by epoch.
type Tracker interface {
	SetName(name string) error
	LogParameters(params map[string]interface{}) error
	LogMetrics(epoch int, metrics map[string]float64) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SetName(string) error                       { return nil }
func (Nop) LogParameters(map[string]interface{}) error { return nil }
func (Nop) LogMetrics(int, map[string]float64) error   { return nil }
func (Nop) Close() error                               { return nil }
