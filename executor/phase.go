package executor

// Phase is a step in one effect's execution.
type Phase uint8

const (
	Submitted Phase = iota
	CapabilityChecked
	ResourcesAcquiring
	HandlerExecuting
	ContinuationApplying
	Logged
	ResourcesReleased
	Failed
)

var phaseNames = [...]string{
	Submitted:            "Submitted",
	CapabilityChecked:    "CapabilityChecked",
	ResourcesAcquiring:   "ResourcesAcquiring",
	HandlerExecuting:     "HandlerExecuting",
	ContinuationApplying: "ContinuationApplying",
	Logged:               "Logged",
	ResourcesReleased:    "ResourcesReleased",
	Failed:               "Failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Phase(?)"
}

// Terminal reports whether p ends an execution.
func (p Phase) Terminal() bool { return p == ResourcesReleased || p == Failed }
