package phase

// Phase is one of the twelve flight phases reported for a tracked aircraft
type Phase string

const (
	GateDeparture  Phase = "gate_departure"
	Takeoff        Phase = "takeoff"
	Climbing       Phase = "climbing"
	Cruise         Phase = "cruise"
	StepDescent    Phase = "step_descent"
	LevelOff       Phase = "level_off"
	Reclimb        Phase = "reclimb"
	InitialDescent Phase = "initial_descent"
	Approach       Phase = "approach"
	Final          Phase = "final"
	Holding        Phase = "holding"
	Arrived        Phase = "arrived"
)

// display holds the short code and label shown to crews for each phase
var display = map[Phase]struct {
	short string
	label string
}{
	GateDeparture:  {"P", "At Gate"},
	Takeoff:        {"TO", "Takeoff"},
	Climbing:       {"CLB", "Climbing"},
	Cruise:         {"CRZ", "Cruise"},
	StepDescent:    {"SD", "Step Descent (ATC)"},
	LevelOff:       {"LVL", "Level Off"},
	Reclimb:        {"RCL", "Reclimb"},
	InitialDescent: {"DES", "Descending"},
	Approach:       {"APR", "Approach"},
	Final:          {"FNL", "Final"},
	Holding:        {"HLD", "Holding"},
	Arrived:        {"ARR", "Arrived"},
}

// Short returns the abbreviated phase code (e.g. "CRZ")
func (p Phase) Short() string {
	return display[p].short
}

// Label returns the human readable phase name
func (p Phase) Label() string {
	return display[p].label
}

// ShortLegThresholdNM is the route length below which displays are simplified
const ShortLegThresholdNM = 150

// ShortLeg reports whether a route is short enough for a simplified display
func ShortLeg(totalDistanceNM float64) bool {
	return totalDistanceNM < ShortLegThresholdNM
}
