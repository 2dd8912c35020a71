package domain

import "fmt"

// Thresholds are the fixed numeric limits governing the security gate.
// They are set at process start and read-only for the life of the
// process.
type Thresholds struct {
	// RiskScore blocks any report scoring at or above it.
	RiskScore int `json:"riskScoreThreshold" toml:"risk_score"`
	// CriticalVulns blocks at this many critical findings.
	CriticalVulns int `json:"criticalVulnThreshold" toml:"critical_vulns"`
	// HighVulns blocks at this many high-severity findings.
	HighVulns int `json:"highVulnThreshold" toml:"high_vulns"`
	// FallbackRiskCeiling blocks moderate scores when the primary
	// scanner was unavailable; without Slither a moderate score is
	// treated conservatively as unsafe.
	FallbackRiskCeiling int `json:"slitherFallbackRiskCeiling" toml:"fallback_risk_ceiling"`
	// AdvisoryRiskCeiling marks check-only results as WARNING without
	// ever blocking anything.
	AdvisoryRiskCeiling int `json:"-" toml:"advisory_risk_ceiling"`
}

// DefaultThresholds returns the strict production policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RiskScore:           50,
		CriticalVulns:       1,
		HighVulns:           5,
		FallbackRiskCeiling: 30,
		AdvisoryRiskCeiling: 25,
	}
}

// Blocking rule identifiers, used for metrics labels.
const (
	RuleCriticalVulns = "critical_vulns"
	RuleRiskScore     = "risk_score"
	RuleHighVulns     = "high_vulns"
	RuleFallback      = "scanner_fallback"
)

// Verdict is the block/allow decision for an analysis report. It is
// recomputed from its inputs, never stored.
type Verdict struct {
	Blocked bool
	// Reasons holds one message per triggered rule, in rule order.
	Reasons []string
	// Rules holds the identifiers of the triggered rules, aligned with
	// Reasons.
	Rules []string
}

// Evaluate derives the gate verdict from a report and the threshold
// policy. All four rules run unconditionally; every matching rule
// contributes its reason. Pure function: same inputs, same verdict.
func Evaluate(report *AnalysisReport, t Thresholds) Verdict {
	var v Verdict

	critical := report.CriticalCount()
	high := report.HighCount()

	if critical >= t.CriticalVulns {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d CRITICAL vulnerability(s) detected", critical))
		v.Rules = append(v.Rules, RuleCriticalVulns)
	}
	if report.RiskScore >= t.RiskScore {
		v.Reasons = append(v.Reasons, fmt.Sprintf("Risk score %d >= %d", report.RiskScore, t.RiskScore))
		v.Rules = append(v.Rules, RuleRiskScore)
	}
	if high >= t.HighVulns {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d high-severity vulnerabilities >= %d", high, t.HighVulns))
		v.Rules = append(v.Rules, RuleHighVulns)
	}
	if !report.SlitherUsed && report.RiskScore > t.FallbackRiskCeiling {
		v.Reasons = append(v.Reasons, fmt.Sprintf("Slither unavailable AND risk score %d > %d", report.RiskScore, t.FallbackRiskCeiling))
		v.Rules = append(v.Rules, RuleFallback)
	}

	v.Blocked = len(v.Reasons) > 0
	return v
}

// DeploymentStatus is the check-only summary signal.
type DeploymentStatus string

const (
	StatusAllowed DeploymentStatus = "ALLOWED"
	StatusWarning DeploymentStatus = "WARNING"
	StatusBlocked DeploymentStatus = "BLOCKED"
)

// CheckStatus derives the check-only status and message from a report
// and its verdict. WARNING is advisory only and never halts anything.
// The two WARNING branches are ordered: the degraded-scanner condition
// takes precedence over the generic advisory score.
func CheckStatus(report *AnalysisReport, verdict Verdict, t Thresholds) (DeploymentStatus, string) {
	if verdict.Blocked {
		return StatusBlocked, verdict.Reasons[0]
	}
	if !report.SlitherUsed && report.RiskScore > t.FallbackRiskCeiling {
		return StatusWarning, "Slither unavailable + moderate risk - manual review recommended"
	}
	if report.RiskScore > t.AdvisoryRiskCeiling {
		return StatusWarning, "Minor security concerns - review recommended"
	}
	return StatusAllowed, "Contract passed security check - safe to deploy"
}
