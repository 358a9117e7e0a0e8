package moderation

// Signal is the external matcher's judgement of a message, each score on a
// 0 to 10 scale.
type Signal struct {
	BanProbability int `json:"ban_probability"`
	Abuse          int `json:"abuse"`
	Spam           int `json:"spam"`
	Useless        int `json:"useless"`
}

// Action is what the core applies to the author.
type Action struct {
	Ban     bool
	Penalty float64
}

func (a Action) IsZero() bool {
	return !a.Ban && a.Penalty == 0
}

const (
	banThreshold    = 7
	signalThreshold = 6
	abusePenalty    = 0.5
	spamPenalty     = 1.0
)

// Decide maps a signal to at most one action: a ban, else the abuse
// penalty, else the spam penalty.
func Decide(s Signal) Action {
	switch {
	case s.BanProbability > banThreshold:
		return Action{Ban: true}
	case s.Abuse >= signalThreshold:
		return Action{Penalty: abusePenalty}
	case s.Spam >= signalThreshold || s.Useless >= signalThreshold:
		return Action{Penalty: spamPenalty}
	}
	return Action{}
}
