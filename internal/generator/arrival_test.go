package generator

import (
	"context"
	"testing"
	"time"
)

func TestPoissonPacerNextDelayUsesSampler(t *testing.T) {
	p := &poissonPacer{rate: 200, sample: func() float64 { return 1 }}
	if got, want := p.nextDelay(), time.Second/200; got != want {
		t.Fatalf("expected delay %s, got %s", want, got)
	}
}

func TestPoissonPacerWaitCancelledContext(t *testing.T) {
	p := &poissonPacer{rate: 0.000001, sample: func() float64 { return 1 }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatalf("expected context error when cancelled")
	}
}

func TestParseArrivalModel(t *testing.T) {
	for in, want := range map[string]ArrivalModel{"": ArrivalModelUniform, "Uniform": ArrivalModelUniform, " poisson ": ArrivalModelPoisson} {
		got, err := ParseArrivalModel(in)
		if err != nil || got != want {
			t.Errorf("ParseArrivalModel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseArrivalModel("burst"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestNewPacerUnlimited(t *testing.T) {
	if newPacer(ArrivalModelUniform, 0, nil) != nil {
		t.Error("expected nil pacer when rate is unlimited")
	}
}
