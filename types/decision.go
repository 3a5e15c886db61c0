package types

// Decision is the outcome of an admission or traffic check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Block reasons.
const (
	ReasonRateLimit = "rate_limit"
	ReasonTraffic   = "traffic"
)
