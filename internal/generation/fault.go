package generation

import "strings"

// FaultKind selects which simulated failure path a prompt triggers.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultGeneration
	FaultCredits
)

// Fault describes a simulated failure. FailAt is the progress percentage at
// which a FaultGeneration run stops.
type Fault struct {
	Kind    FaultKind
	FailAt  int
	Message string
}

// FaultInjector decides whether a prompt should fail. Real error sources
// (model errors, billing) can replace the substring rules without touching
// the emitter or the intake handler.
type FaultInjector interface {
	Inspect(prompt string) Fault
}

// NoFaults never injects a failure.
type NoFaults struct{}

func (NoFaults) Inspect(string) Fault { return Fault{} }

// FaultRule maps a case-insensitive prompt substring to a fault.
type FaultRule struct {
	Match string
	Fault Fault
}

// SubstringFaults returns the fault of the first rule whose Match occurs in
// the prompt.
type SubstringFaults struct {
	Rules []FaultRule
}

// DefaultFaults is the demo rule set: prompts mentioning "failed" fail at 40%,
// prompts mentioning "no credits" are refused for lack of credits.
func DefaultFaults() *SubstringFaults {
	return &SubstringFaults{Rules: []FaultRule{
		{Match: "no credits", Fault: Fault{
			Kind:    FaultCredits,
			Message: "Not enough credits to generate this song",
		}},
		{Match: "failed", Fault: Fault{
			Kind:    FaultGeneration,
			FailAt:  40,
			Message: "Generation failed. Please try again.",
		}},
	}}
}

func (f *SubstringFaults) Inspect(prompt string) Fault {
	lower := strings.ToLower(prompt)
	for _, rule := range f.Rules {
		if rule.Match != "" && strings.Contains(lower, strings.ToLower(rule.Match)) {
			return rule.Fault
		}
	}
	return Fault{}
}
