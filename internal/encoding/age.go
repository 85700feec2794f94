package encoding

// AgeBand is an ordinal age group.
type AgeBand int

const (
	Young AgeBand = iota
	Adult
	Middle
	Senior
)

var ageBandNames = [...]string{"Young", "Adult", "Middle", "Senior"}

func (b AgeBand) String() string {
	if b < Young || b > Senior {
		return "Unknown"
	}
	return ageBandNames[b]
}

// BandForAge buckets an age: <=30 Young, <=45 Adult, <=60 Middle, otherwise Senior.
// Negative or implausible ages are not rejected.
func BandForAge(age int) AgeBand {
	switch {
	case age <= 30:
		return Young
	case age <= 45:
		return Adult
	case age <= 60:
		return Middle
	default:
		return Senior
	}
}

// AgeDomain is the fixed four-band domain. All bands are present even when the
// training data lacks one, so every age can be encoded.
func AgeDomain() *Domain {
	labels := make([]string, 0, len(ageBandNames))
	labels = append(labels, ageBandNames[:]...)
	d, _ := FitDomain(labels)
	return d
}
