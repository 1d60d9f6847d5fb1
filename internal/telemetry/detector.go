package telemetry

import "math"

// Metric names emitted by the supported device types. The detector is not
// limited to these; any metric with a registered predicate is classified.
const (
	MetricAcceleration = "acceleration"
	MetricGas          = "gas"
	MetricTemperature  = "temperature"
	MetricSpeed        = "speed"
	MetricWater        = "water"
)

// Default thresholds. Values at the threshold are normal; only readings
// strictly beyond it are anomalous.
const (
	DefaultMaxAcceleration = 5.0
	DefaultMaxGas          = 100.0
	DefaultMaxTemperature  = 85.0
	DefaultMaxSpeed        = 180.0
	DefaultMaxWater        = 50.0
)

// Predicate decides whether a single value of one metric is anomalous.
// Predicates must be pure: no side effects, same answer for the same value.
type Predicate func(value float64) bool

// Detector classifies readings through a registry of per-metric threshold
// predicates. Supporting a new metric means registering one predicate;
// existing predicates are never touched.
type Detector struct {
	predicates map[string]Predicate
}

// NewDetector creates a detector with the default predicate set.
func NewDetector() *Detector {
	d := &Detector{predicates: make(map[string]Predicate)}
	d.Register(MetricAcceleration, func(v float64) bool { return math.Abs(v) > DefaultMaxAcceleration })
	d.Register(MetricGas, func(v float64) bool { return v > DefaultMaxGas })
	d.Register(MetricTemperature, func(v float64) bool { return v > DefaultMaxTemperature })
	d.Register(MetricSpeed, func(v float64) bool { return v > DefaultMaxSpeed })
	d.Register(MetricWater, func(v float64) bool { return v > DefaultMaxWater })
	return d
}

// Register maps a metric name to its threshold predicate. Not safe for use
// concurrently with Classify; register everything at startup.
func (d *Detector) Register(metric string, p Predicate) {
	d.predicates[metric] = p
}

// Classify reports whether one value of a metric is anomalous. Metrics
// without a registered predicate are never anomalous.
func (d *Detector) Classify(metric string, value float64) bool {
	p, ok := d.predicates[metric]
	if !ok {
		return false
	}
	return p(value)
}
