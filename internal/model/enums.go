package model

type Plan string

const (
	PlanBasic   Plan = "Basic"
	PlanPremium Plan = "Premium"
	PlanPro     Plan = "Pro"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanPremium, PlanPro:
		return true
	}
	return false
}

// Unlimited is the quota value for tiers without a cap.
const Unlimited = -1

// ChatQuota returns the lifetime live-chat allowance for the plan.
func (p Plan) ChatQuota() int {
	switch p {
	case PlanPremium:
		return 500
	case PlanPro:
		return Unlimited
	default:
		return 100
	}
}

// EmailQuota returns the lifetime draft-email allowance for the plan.
func (p Plan) EmailQuota() int {
	switch p {
	case PlanPremium:
		return 100
	case PlanPro:
		return Unlimited
	default:
		return 10
	}
}

// HasPremiumFeatures reports whether the plan unlocks summaries, shopping,
// stories and duels.
func (p Plan) HasPremiumFeatures() bool {
	return p == PlanPremium || p == PlanPro
}

type Mode string

const (
	ModeProfessional Mode = "professional"
	ModeFun          Mode = "fun"
)

func (m Mode) Valid() bool {
	return m == ModeProfessional || m == ModeFun
}

// ChannelTag labels where a conversation turn originated.
type ChannelTag string

const (
	ChannelGeneral ChannelTag = "general"
	ChannelMatrix  ChannelTag = "matrix"
)

func (c ChannelTag) Valid() bool {
	return c == ChannelGeneral || c == ChannelMatrix
}

type Counter string

const (
	CounterChats    Counter = "chats"
	CounterEmails   Counter = "emails"
	CounterSwitches Counter = "switches"
)

// Column maps a counter to its users column. The second value is false for
// unknown counters so callers never interpolate untrusted names into SQL.
func (c Counter) Column() (string, bool) {
	switch c {
	case CounterChats:
		return "chats_sent", true
	case CounterEmails:
		return "emails_sent", true
	case CounterSwitches:
		return "switches", true
	}
	return "", false
}
