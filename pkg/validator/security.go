// Copyright 2025 BMAD Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validator

import (
	"fmt"
	"strings"
	"time"
)

// SecurityGate is the pass threshold for the security gate.
const SecurityGate = 95.0

// securityCheck is one keyword-matched requirement in the gate.
type securityCheck struct {
	Category       string
	Name           string
	Keywords       []string
	Recommendation string
}

// securityChecks are the twenty checks across six categories. Matching
// is case-insensitive.
var securityChecks = []securityCheck{
	{"authentication/authorization", "authentication mechanism", []string{"authentication", "oauth", "oidc", "sso"}, "document how users authenticate"},
	{"authentication/authorization", "authorization model", []string{"authorization", "rbac", "permission", "access control"}, "document the authorization model"},
	{"authentication/authorization", "session management", []string{"session", "token expiry", "token lifetime"}, "document session and token lifetimes"},
	{"authentication/authorization", "mfa posture", []string{"mfa", "multi-factor", "2fa"}, "state the multi-factor authentication posture"},

	{"secrets management", "secret storage", []string{"secret", "vault", "kms"}, "document where secrets live"},
	{"secrets management", "credential rotation", []string{"rotation", "rotate"}, "document credential rotation"},
	{"secrets management", "no hardcoded credentials", []string{"hardcoded", "environment variable", "env var"}, "state how credentials reach the runtime"},

	{"input validation", "input validation", []string{"input validation", "validate input", "sanitiz"}, "document input validation strategy"},
	{"input validation", "injection defenses", []string{"injection", "parameterized", "prepared statement"}, "document injection defenses"},
	{"input validation", "file upload handling", []string{"upload limit", "content type", "file size"}, "constrain file uploads"},

	{"api security", "rate limiting", []string{"rate limit", "throttl"}, "document API rate limiting"},
	{"api security", "cors policy", []string{"cors"}, "document the CORS policy"},
	{"api security", "api authentication", []string{"api key", "bearer token", "jwt"}, "document API authentication"},
	{"api security", "audit logging", []string{"audit", "access log"}, "document security audit logging"},

	{"encryption", "encryption at rest", []string{"at rest", "disk encryption"}, "document encryption at rest"},
	{"encryption", "encryption in transit", []string{"tls", "https", "in transit"}, "document encryption in transit"},
	{"encryption", "key management", []string{"key management", "key rotation"}, "document key management"},

	{"threat model", "threat model", []string{"threat model", "stride", "attack surface"}, "produce a threat model"},
	{"threat model", "dependency scanning", []string{"dependency scan", "vulnerability scan", "sca", "cve"}, "document dependency scanning"},
	{"threat model", "incident response", []string{"incident response", "breach"}, "document incident response"},
}

// SecurityGap is one unsatisfied check in the gap report.
type SecurityGap struct {
	Category       string `json:"category"`
	Check          string `json:"check"`
	Recommendation string `json:"recommendation"`
}

// SecurityReport extends Report with a per-category gap breakdown.
type SecurityReport struct {
	Report
	SatisfiedChecks int                      `json:"satisfied_checks"`
	TotalChecks     int                      `json:"total_checks"`
	GapsByCategory  map[string][]SecurityGap `json:"gaps_by_category"`
}

// SecurityGateValidator runs the twenty-check security gate.
type SecurityGateValidator struct{}

// NewSecurityGateValidator creates the gate validator.
func NewSecurityGateValidator() *SecurityGateValidator {
	return &SecurityGateValidator{}
}

// Validate scores the document: 5 points per satisfied check, pass at
// 95 or above.
func (v *SecurityGateValidator) Validate(doc string) *SecurityReport {
	lower := strings.ToLower(doc)

	satisfied := 0
	gaps := make(map[string][]SecurityGap)
	var findings []Finding

	byCategory := make(map[string]*Finding)
	for _, check := range securityChecks {
		f, ok := byCategory[check.Category]
		if !ok {
			f = &Finding{Dimension: check.Category}
			byCategory[check.Category] = f
		}

		matched := false
		for _, kw := range check.Keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if matched {
			satisfied++
			continue
		}

		f.Gaps = append(f.Gaps, check.Name)
		f.Recommendations = append(f.Recommendations, check.Recommendation)
		gaps[check.Category] = append(gaps[check.Category], SecurityGap{
			Category:       check.Category,
			Check:          check.Name,
			Recommendation: check.Recommendation,
		})
	}

	// Deterministic finding order by first appearance.
	seen := make(map[string]bool)
	for _, check := range securityChecks {
		if seen[check.Category] {
			continue
		}
		seen[check.Category] = true
		findings = append(findings, *byCategory[check.Category])
	}

	score := 100 * float64(satisfied) / float64(len(securityChecks))

	return &SecurityReport{
		Report: Report{
			OverallScore: clampScore(score),
			Findings:     findings,
			Passed:       score >= SecurityGate,
			Gate:         SecurityGate,
			Timestamp:    time.Now(),
		},
		SatisfiedChecks: satisfied,
		TotalChecks:     len(securityChecks),
		GapsByCategory:  gaps,
	}
}

// Summary renders a short human-readable gate result.
func (r *SecurityReport) Summary() string {
	status := "FAILED"
	if r.Passed {
		status = "PASSED"
	}
	return fmt.Sprintf("security gate %s: %d/%d checks satisfied (%.0f%%, gate %.0f%%)",
		status, r.SatisfiedChecks, r.TotalChecks, r.OverallScore, r.Gate)
}
