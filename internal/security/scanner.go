// Package security implements the Security Gate: a static
// code-pattern scanner and a manifest/permission validator, combined into a
// single allow/warn/sandbox/block decision. Neither sub-check ever executes
// skill code; both operate on raw bytes and the already-parsed manifest.
package security

import (
	"regexp"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

// Scanner score weights, grounded on
// original_source/packages/python/agent/src/agent/tests/test_security_scanner.py:
// critical findings (shell interpolation, eval/exec, dynamic-import bypass)
// are worth enough on their own to block; medium/low findings only
// accumulate toward a warning.
const (
	scoreCritical = 50
	scoreHigh     = 20
	scoreMedium   = 10
	scoreLow      = 2
)

// Scanner default thresholds. A single critical finding (50) blocks
// outright; a cluster of medium/low findings (>=20) warns.
const (
	ScannerBlockThreshold = 50
	ScannerWarnThreshold  = 20
)

type codePattern struct {
	rule     string
	severity string
	score    int
	re       *regexp.Regexp
}

// codePatterns is the scanner's rule table. Order matters only for
// readability; every pattern is evaluated against every file.
var codePatterns = []codePattern{
	{"shell-interpolation", "critical", scoreCritical, regexp.MustCompile(`(?i)subprocess\.(run|call|Popen)\([^)]*shell\s*=\s*True`)},
	{"os-system", "critical", scoreCritical, regexp.MustCompile(`\bos\.system\(`)},
	{"eval-call", "critical", scoreCritical, regexp.MustCompile(`\beval\(`)},
	{"exec-call", "critical", scoreCritical, regexp.MustCompile(`\bexec\(`)},
	{"dynamic-import", "critical", scoreCritical, regexp.MustCompile(`__import__\(`)},
	{"unbounded-file-write", "high", scoreHigh, regexp.MustCompile(`\bopen\([^)]*['"]w`)},
	{"network-no-timeout", "high", scoreHigh, regexp.MustCompile(`(?i)requests\.(get|post|put|delete)\([^)]*\)`)},
	{"subprocess-run", "medium", scoreMedium, regexp.MustCompile(`subprocess\.(run|call|Popen)\(`)},
	{"sensitive-path-read", "medium", scoreMedium, regexp.MustCompile(`(?i)open\(['"](/etc/|~/\.ssh|~/\.aws)`)},
	{"env-inspection", "low", scoreLow, regexp.MustCompile(`\bos\.environ\b`)},
}

// networkTimeoutRe detects a timeout kwarg on the same call, and
// networkTimeoutNoneRe detects one explicitly bound to None. "timeout=None"
// still blocks forever, so it must not suppress the network-no-timeout
// finding (see
// original_source/packages/python/agent/src/agent/tests/test_security_scanner.py's
// test_high_network_request).
var networkTimeoutRe = regexp.MustCompile(`timeout\s*=`)
var networkTimeoutNoneRe = regexp.MustCompile(`timeout\s*=\s*None\b`)

// ScanFile returns every finding a single file's content produces.
func ScanFile(path, content string) []domain.SecurityFinding {
	var findings []domain.SecurityFinding
	for _, p := range codePatterns {
		if p.rule == "network-no-timeout" {
			loc := p.re.FindStringIndex(content)
			if loc == nil {
				continue
			}
			call := content[loc[0]:loc[1]]
			hasRealTimeout := networkTimeoutRe.MatchString(call) && !networkTimeoutNoneRe.MatchString(call)
			if !hasRealTimeout {
				findings = append(findings, domain.SecurityFinding{
					Severity: p.severity, Rule: p.rule, File: path, Score: p.score,
				})
			}
			continue
		}
		if p.re.MatchString(content) {
			findings = append(findings, domain.SecurityFinding{
				Severity: p.severity, Rule: p.rule, File: path, Score: p.score,
			})
		}
	}
	return findings
}

// ScanTotal sums a finding set's score.
func ScanTotal(findings []domain.SecurityFinding) int {
	total := 0
	for _, f := range findings {
		total += f.Score
	}
	return total
}
