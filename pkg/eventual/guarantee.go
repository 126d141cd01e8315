package eventual

// Guarantee is the delivery semantics an event was completed under.
type Guarantee string

const (
	NoGuarantee Guarantee = "no_guarantee"
	AtMostOnce  Guarantee = "at_most_once"
	AtLeastOnce Guarantee = "at_least_once"
	ExactlyOnce Guarantee = "exactly_once"
)

// Guarantees lists every known guarantee.
func Guarantees() []Guarantee {
	return []Guarantee{NoGuarantee, AtMostOnce, AtLeastOnce, ExactlyOnce}
}

func (g Guarantee) Valid() bool {
	switch g {
	case NoGuarantee, AtMostOnce, AtLeastOnce, ExactlyOnce:
		return true
	}
	return false
}

func (g Guarantee) String() string {
	return string(g)
}
