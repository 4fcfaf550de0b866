package generator

import (
	"fmt"
	"math"

	"github.com/torosent/chatfire/internal/message"
)

// Distribution holds the categorical probabilities of each message kind.
type Distribution struct {
	Text  float64
	Join  float64
	Leave float64
}

// DefaultDistribution is 90% TEXT, 5% JOIN, 5% LEAVE.
var DefaultDistribution = Distribution{Text: 0.90, Join: 0.05, Leave: 0.05}

// Validate checks that every weight is non-negative and that they sum to 1.
func (d Distribution) Validate() error {
	if d.Text < 0 || d.Join < 0 || d.Leave < 0 {
		return fmt.Errorf("kind probabilities must be >= 0 (text=%g join=%g leave=%g)", d.Text, d.Join, d.Leave)
	}
	if sum := d.Text + d.Join + d.Leave; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("kind probabilities must sum to 1, got %g", sum)
	}
	return nil
}

// KindFor maps a uniform draw u in [0,1) onto a kind using cumulative
// thresholds.
func (d Distribution) KindFor(u float64) message.Kind {
	switch {
	case u < d.Text:
		return message.KindText
	case u < d.Text+d.Join:
		return message.KindJoin
	default:
		return message.KindLeave
	}
}
