package extraction

import "testing"

func fptr(f float64) *float64 { return &f }

func TestDetectRedFlagsRules(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		want []string
	}{
		{
			name: "clean company",
			m: Metrics{
				GrossMarginPctByPeriod: []float64{40, 41, 42},
				FreeCashFlowByPeriod:   []float64{-5, 10, 20},
				DebtToEBITDA:           fptr(2.1),
				TopCustomerRevenuePct:  fptr(8),
			},
			want: nil,
		},
		{
			name: "declining margins",
			m:    Metrics{GrossMarginPctByPeriod: []float64{45, 42, 40}},
			want: []string{RuleDecliningMargins},
		},
		{
			name: "steep decline is high severity",
			m:    Metrics{GrossMarginPctByPeriod: []float64{45, 38}},
			want: []string{RuleDecliningMargins},
		},
		{
			name: "high leverage",
			m:    Metrics{DebtToEBITDA: fptr(4.5)},
			want: []string{RuleHighLeverage},
		},
		{
			name: "chronic negative fcf",
			m:    Metrics{FreeCashFlowByPeriod: []float64{-10, -4, -7}},
			want: []string{RuleNegativeFreeCashFlow},
		},
		{
			name: "customer concentration",
			m:    Metrics{TopCustomerRevenuePct: fptr(35)},
			want: []string{RuleCustomerConcentration},
		},
		{
			name: "single negative period is not chronic",
			m:    Metrics{FreeCashFlowByPeriod: []float64{-10}},
			want: nil,
		},
		{
			name: "missing metrics trigger nothing",
			m:    Metrics{},
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags := DetectRedFlags(tc.m)
			if len(flags) != len(tc.want) {
				t.Fatalf("flags: want=%v got=%+v", tc.want, flags)
			}
			for i, f := range flags {
				if f.Rule != tc.want[i] {
					t.Fatalf("rule %d: want=%s got=%s", i, tc.want[i], f.Rule)
				}
			}
		})
	}
}

func TestSteepMarginDeclineSeverity(t *testing.T) {
	flags := DetectRedFlags(Metrics{GrossMarginPctByPeriod: []float64{45, 38}})
	if len(flags) != 1 || flags[0].Severity != "high" {
		t.Fatalf("severity: %+v", flags)
	}
}

func TestMetricsFromResultTolerantDecode(t *testing.T) {
	m := MetricsFromResult(map[string]any{
		"financial_metrics": map[string]any{
			"gross_margin_pct_by_period": []any{40.0, "bad", 38.0},
			"debt_to_ebitda":             3.0,
			"top_customer_revenue_pct":   "not a number",
		},
	})
	if len(m.GrossMarginPctByPeriod) != 2 {
		t.Fatalf("margins: %v", m.GrossMarginPctByPeriod)
	}
	if m.DebtToEBITDA == nil || *m.DebtToEBITDA != 3.0 {
		t.Fatalf("leverage: %v", m.DebtToEBITDA)
	}
	if m.TopCustomerRevenuePct != nil {
		t.Fatalf("malformed field must decode to nil")
	}

	if got := MetricsFromResult(map[string]any{}); got.DebtToEBITDA != nil {
		t.Fatalf("missing object: %+v", got)
	}
}
