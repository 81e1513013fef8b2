package extraction

import "fmt"

// Metrics is the typed slice of an extraction result the deterministic rules
// run over. Period slices are ordered oldest to newest.
type Metrics struct {
	GrossMarginPctByPeriod []float64
	FreeCashFlowByPeriod   []float64
	DebtToEBITDA           *float64
	TopCustomerRevenuePct  *float64
}

type RedFlag struct {
	Rule     string
	Severity string
	Detail   string
}

const (
	RuleDecliningMargins      = "declining_margins"
	RuleHighLeverage          = "high_leverage"
	RuleNegativeFreeCashFlow  = "chronic_negative_fcf"
	RuleCustomerConcentration = "customer_concentration"
)

const (
	marginDeclineThresholdPts = 2.0
	leverageThreshold         = 4.0
	concentrationThresholdPct = 20.0
)

// DetectRedFlags applies the deterministic rules. Missing metrics never
// trigger a rule.
func DetectRedFlags(m Metrics) []RedFlag {
	var flags []RedFlag

	if n := len(m.GrossMarginPctByPeriod); n >= 2 {
		first := m.GrossMarginPctByPeriod[0]
		last := m.GrossMarginPctByPeriod[n-1]
		if drop := first - last; drop > marginDeclineThresholdPts {
			severity := "medium"
			if drop > 2*marginDeclineThresholdPts {
				severity = "high"
			}
			flags = append(flags, RedFlag{
				Rule:     RuleDecliningMargins,
				Severity: severity,
				Detail:   fmt.Sprintf("gross margin declined %.1f points across %d periods (%.1f%% to %.1f%%)", drop, n, first, last),
			})
		}
	}

	if m.DebtToEBITDA != nil && *m.DebtToEBITDA > leverageThreshold {
		flags = append(flags, RedFlag{
			Rule:     RuleHighLeverage,
			Severity: "high",
			Detail:   fmt.Sprintf("debt/EBITDA of %.1fx exceeds %.1fx", *m.DebtToEBITDA, leverageThreshold),
		})
	}

	if n := len(m.FreeCashFlowByPeriod); n >= 2 {
		allNegative := true
		for _, v := range m.FreeCashFlowByPeriod {
			if v >= 0 {
				allNegative = false
				break
			}
		}
		if allNegative {
			flags = append(flags, RedFlag{
				Rule:     RuleNegativeFreeCashFlow,
				Severity: "high",
				Detail:   fmt.Sprintf("free cash flow negative in all %d reported periods", n),
			})
		}
	}

	if m.TopCustomerRevenuePct != nil && *m.TopCustomerRevenuePct > concentrationThresholdPct {
		flags = append(flags, RedFlag{
			Rule:     RuleCustomerConcentration,
			Severity: "medium",
			Detail:   fmt.Sprintf("top customer is %.1f%% of revenue (threshold %.0f%%)", *m.TopCustomerRevenuePct, concentrationThresholdPct),
		})
	}

	return flags
}

// MetricsFromResult pulls the financial_metrics object out of a decoded
// extraction result, tolerating missing or malformed fields.
func MetricsFromResult(result map[string]any) Metrics {
	var m Metrics
	fm, _ := result["financial_metrics"].(map[string]any)
	if fm == nil {
		return m
	}
	m.GrossMarginPctByPeriod = floatSlice(fm["gross_margin_pct_by_period"])
	m.FreeCashFlowByPeriod = floatSlice(fm["free_cash_flow_by_period"])
	if f, ok := fm["debt_to_ebitda"].(float64); ok {
		m.DebtToEBITDA = &f
	}
	if f, ok := fm["top_customer_revenue_pct"].(float64); ok {
		m.TopCustomerRevenuePct = &f
	}
	return m
}

func floatSlice(v any) []float64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		if f, ok := e.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}
