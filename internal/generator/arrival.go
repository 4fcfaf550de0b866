package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ArrivalModel selects how generated items are spaced when a rate is set.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// ParseArrivalModel accepts the model name case-insensitively. Empty means
// uniform.
func ParseArrivalModel(s string) (ArrivalModel, error) {
	switch ArrivalModel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ArrivalModelUniform:
		return ArrivalModelUniform, nil
	case ArrivalModelPoisson:
		return ArrivalModelPoisson, nil
	default:
		return "", fmt.Errorf("unknown arrival model %q (want uniform or poisson)", s)
	}
}

type pacer interface {
	Wait(ctx context.Context) error
}

func newPacer(model ArrivalModel, rps int, rnd *rand.Rand) pacer {
	if rps <= 0 {
		return nil
	}
	if model == ArrivalModelPoisson {
		return &poissonPacer{rate: float64(rps), sample: rnd.ExpFloat64}
	}
	return &uniformPacer{limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

// uniformPacer delegates pacing to a rate.Limiter.
type uniformPacer struct {
	limiter *rate.Limiter
}

func (u *uniformPacer) Wait(ctx context.Context) error {
	return u.limiter.Wait(ctx)
}

// poissonPacer samples exponential inter-arrival gaps.
type poissonPacer struct {
	rate   float64
	sample func() float64
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonPacer) nextDelay() time.Duration {
	if p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
