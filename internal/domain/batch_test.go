package domain

import (
	"errors"
	"testing"
)

func TestValidateRequest_TooFewTargets(t *testing.T) {
	err := ValidateRequest([]string{"web-01"}, Policy{Strategy: StrategySequential})
	if !errors.Is(err, ErrTooFewTargets) {
		t.Errorf("got %v, want ErrTooFewTargets", err)
	}
}

func TestValidateRequest_TwoTargetsOK(t *testing.T) {
	err := ValidateRequest([]string{"web-01", "web-02"}, Policy{Strategy: StrategySequential})
	if err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestValidateRequest_DuplicateTarget(t *testing.T) {
	err := ValidateRequest([]string{"web-01", "web-02", "web-01"}, Policy{Strategy: StrategySequential})
	if !errors.Is(err, ErrDuplicateTarget) {
		t.Errorf("got %v, want ErrDuplicateTarget", err)
	}
}

func TestPolicyValidate_ConcurrencyBounds(t *testing.T) {
	cases := []struct {
		limit int
		ok    bool
	}{
		{0, false},
		{1, true},
		{20, true},
		{21, false},
	}

	for _, tc := range cases {
		p := Policy{Strategy: StrategyParallel, ConcurrencyLimit: tc.limit}
		err := p.Validate()
		if tc.ok && err != nil {
			t.Errorf("limit %d: got %v, want nil", tc.limit, err)
		}
		if !tc.ok && !errors.Is(err, ErrConcurrencyOutOfRange) {
			t.Errorf("limit %d: got %v, want ErrConcurrencyOutOfRange", tc.limit, err)
		}
	}
}

func TestPolicyValidate_SequentialIgnoresLimit(t *testing.T) {
	p := Policy{Strategy: StrategySequential, ConcurrencyLimit: 0}
	if err := p.Validate(); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	if p.Window() != 1 {
		t.Errorf("got window %d, want 1", p.Window())
	}
}

func TestPolicyValidate_UnknownStrategy(t *testing.T) {
	p := Policy{Strategy: "round-robin"}
	if err := p.Validate(); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("got %v, want ErrUnknownStrategy", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSummarize(t *testing.T) {
	children := []*ChildExecution{
		{Status: StatusSuccess},
		{Status: StatusSuccess},
		{Status: StatusFailed},
		{Status: StatusCancelled},
	}

	s := Summarize(children)
	if s.Succeeded != 2 || s.Failed != 1 || s.Cancelled != 1 {
		t.Errorf("got %+v, want 2/1/1", s)
	}

	want := "2/4 succeeded, 1 failed, 1 cancelled"
	if s.String() != want {
		t.Errorf("got %q, want %q", s.String(), want)
	}
}

func TestInvalidRequest(t *testing.T) {
	if !InvalidRequest(ErrTooFewTargets) {
		t.Error("ErrTooFewTargets should be an invalid request")
	}
	if InvalidRequest(ErrNotFound) {
		t.Error("ErrNotFound should not be an invalid request")
	}
	if InvalidRequest(nil) {
		t.Error("nil should not be an invalid request")
	}
}
