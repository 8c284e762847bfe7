package repair

import "fmt"

// Step enumerates the nodes of the repair graph.
type Step int

const (
	Explain Step = iota
	Fix
	Execute
)

var stepNames = [...]string{
	Explain: "explain",
	Fix:     "fix",
	Execute: "execute",
}

// Steps returns every step in graph order.
func Steps() []Step {
	return []Step{Explain, Fix, Execute}
}

// String is the node name used for wiring and in the visited trail.
func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep maps a step name such as "fix" back to its Step.
func ParseStep(name string) (Step, error) {
	for _, s := range Steps() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}
