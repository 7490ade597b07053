package engine

import (
	"errors"
	"math"
	"testing"
)

func testParams() VaRParams {
	return VaRParams{
		Period:   600,
		Alphas:   []float64{0.05, 0.01, 0.001, 0.0001},
		Horizons: []int{144, 1008, 2016, 4320},
	}
}

func TestEstimateConstantSampleYieldsZeroVaR(t *testing.T) {
	// A flat price path calibrates to mu = 0, sigSqrd = 0, and every grid
	// cell collapses to exp(0) - 1 = 0.
	sample := []float64{42, 42, 42, 42, 42}
	stat, err := Estimate(1_700_000_000, sample, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stat.Mu != 0 {
		t.Fatalf("mu = %v, want 0", stat.Mu)
	}
	if stat.SigSqrd != 0 {
		t.Fatalf("sigSqrd = %v, want 0", stat.SigSqrd)
	}
	if len(stat.VaR) != 16 {
		t.Fatalf("grid has %d cells, want 16", len(stat.VaR))
	}
	for label, v := range stat.VaR {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("%s = %v, want 0", label, v)
		}
	}
}

func TestEstimateGridKeys(t *testing.T) {
	stat, err := Estimate(0, []float64{1, 2, 1, 2}, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, label := range []string{
		"VaR alpha=0.05 n=144",
		"VaR alpha=0.0001 n=4320",
	} {
		if _, ok := stat.VaR[label]; !ok {
			t.Fatalf("grid missing key %q", label)
		}
	}
}

func TestEstimateMonotonicity(t *testing.T) {
	// Alternating returns give mu = 0 and sigSqrd > 0; |VaR| must grow as
	// alpha shrinks (fixed n) and as n grows (fixed alpha).
	r := 0.01
	sample := []float64{1, math.Exp(r), 1, math.Exp(r), 1}
	p := testParams()

	stat, err := Estimate(0, sample, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !(stat.SigSqrd > 0) {
		t.Fatalf("sigSqrd = %v, want > 0", stat.SigSqrd)
	}

	for _, n := range p.Horizons {
		prev := math.Inf(1)
		for _, alpha := range p.Alphas { // alphas descend: 0.05 .. 0.0001
			v := math.Abs(stat.VaR[VaRLabel(alpha, n)])
			if prev != math.Inf(1) && v <= prev {
				t.Fatalf("|VaR| not increasing as alpha decreases at n=%d: %v <= %v", n, v, prev)
			}
			prev = v
		}
	}

	for _, alpha := range p.Alphas {
		prev := -1.0
		for _, n := range p.Horizons { // horizons ascend
			v := math.Abs(stat.VaR[VaRLabel(alpha, n)])
			if v <= prev {
				t.Fatalf("|VaR| not increasing with horizon at alpha=%v: %v <= %v", alpha, v, prev)
			}
			prev = v
		}
	}
}

func TestCalcVaRClosedForm(t *testing.T) {
	// Independent evaluation of the lognormal bound via the probit identity
	// Phi^-1(q) = sqrt(2) * erfinv(2q - 1).
	mu, sigSqrd := 0.0001, 0.0002
	tPeriod := 60.0
	n := 144
	alpha := 0.05

	nt := float64(n) * tPeriod
	probit := math.Sqrt2 * math.Erfinv(2*(1-alpha)-1)
	want := math.Exp(mu*nt+math.Sqrt(sigSqrd*nt)*probit) - 1

	got := CalcVaR(mu, sigSqrd, tPeriod, n, alpha)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("CalcVaR = %v, want %v (diff %v)", got, want, got-want)
	}
}

func TestEstimateInsufficientHistory(t *testing.T) {
	_, err := Estimate(0, []float64{1}, testParams())
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestEstimateNumericDegeneracy(t *testing.T) {
	// A zero sample produces an infinite log-return; the whole estimate is
	// rejected instead of emitting a degenerate stat.
	_, err := Estimate(0, []float64{1, 0, 1}, testParams())
	if !errors.Is(err, ErrNumericDegeneracy) {
		t.Fatalf("err = %v, want ErrNumericDegeneracy", err)
	}
}

func TestVaRLabelRendering(t *testing.T) {
	if got := VaRLabel(0.05, 144); got != "VaR alpha=0.05 n=144" {
		t.Fatalf("label = %q", got)
	}
	if got := VaRLabel(0.0001, 4320); got != "VaR alpha=0.0001 n=4320" {
		t.Fatalf("label = %q", got)
	}
}

func TestVaRParamsValidate(t *testing.T) {
	cases := []VaRParams{
		{Period: 0, Alphas: []float64{0.05}, Horizons: []int{1}},
		{Period: 60, Alphas: nil, Horizons: []int{1}},
		{Period: 60, Alphas: []float64{0.05}, Horizons: nil},
		{Period: 60, Alphas: []float64{1.5}, Horizons: []int{1}},
		{Period: 60, Alphas: []float64{0.05}, Horizons: []int{0}},
	}
	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	ok := testParams()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}

func TestValidateSeries(t *testing.T) {
	good := []PricePoint{{Timestamp: 1}, {Timestamp: 2}, {Timestamp: 3}}
	if err := ValidateSeries(good); err != nil {
		t.Fatalf("ordered series rejected: %v", err)
	}

	dup := []PricePoint{{Timestamp: 1}, {Timestamp: 1}}
	if err := ValidateSeries(dup); err == nil {
		t.Fatal("duplicate timestamps accepted")
	}

	unordered := []PricePoint{{Timestamp: 2}, {Timestamp: 1}}
	if err := ValidateSeries(unordered); err == nil {
		t.Fatal("descending series accepted")
	}
}
