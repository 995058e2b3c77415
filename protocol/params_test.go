package protocol

import (
	"errors"
	"math/big"
	"testing"
)

func TestNewParamsDefaults(t *testing.T) {
	params, err := NewParams(DefaultParamsSpec())
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	args := params.ConstructorArgs()
	if len(args) != 7 {
		t.Fatalf("expected 7 constructor args, got %d", len(args))
	}
	want := []*big.Int{
		big.NewInt(100),
		big.NewInt(1),
		big.NewInt(10),
		MustParseEther("0.1"),
		MustParseEther("0.2"),
		big.NewInt(50),
		MustParseEther("0.1"),
	}
	for i, arg := range args {
		got, ok := arg.(*big.Int)
		if !ok {
			t.Fatalf("arg %d: expected *big.Int, got %T", i, arg)
		}
		if got.Cmp(want[i]) != 0 {
			t.Fatalf("arg %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestNewParamsRejectsInvertedBounds(t *testing.T) {
	cases := map[string]func(*ParamsSpec){
		"durations": func(s *ParamsSpec) { s.MinDuration, s.MaxDuration = 11, 10 },
		"fees":      func(s *ParamsSpec) { s.MinFee, s.MaxFee = MustParseEther("0.3"), MustParseEther("0.2") },
		"zero min":  func(s *ParamsSpec) { s.MinDuration = 0 },
		"ratio":     func(s *ParamsSpec) { s.BorrowRatio = 0 },
		"percent":   func(s *ParamsSpec) { s.OverdraftPercentDuration = 101 },
		"negative":  func(s *ParamsSpec) { s.OverdraftFee = big.NewInt(-1) },
		"nil fee":   func(s *ParamsSpec) { s.MinFee = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := DefaultParamsSpec()
			mutate(&spec)
			if _, err := NewParams(spec); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestParamsReturnCopies(t *testing.T) {
	params, err := NewParams(DefaultParamsSpec())
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	fee := params.MinFee()
	fee.SetInt64(0)
	if params.MinFee().Sign() == 0 {
		t.Fatalf("mutating a returned fee must not change params")
	}
}

func TestEtherConversions(t *testing.T) {
	wei, err := ParseEther("0.05")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if wei.String() != "50000000000000000" {
		t.Fatalf("unexpected wei %s", wei)
	}
	if got := FormatEther(wei); got != "0.05" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatEther(MustParseEther("10000")); got != "10000" {
		t.Fatalf("unexpected format %q", got)
	}
	if _, err := ParseEther("0.0000000000000000001"); err == nil {
		t.Fatalf("expected error for sub-wei precision")
	}
	if _, err := ParseEther("-1"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}
