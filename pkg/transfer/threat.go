/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import "github.com/flowsec/flowsec-go/spi/scan"

// Threat labels.
const (
	LabelClean      = "Clean"
	LabelLowRisk    = "Low Risk"
	LabelSuspicious = "Suspicious"
	LabelMalicious  = "Malicious"
	LabelUnknown    = "Unknown"
)

const (
	lowRiskMax    = 1
	suspiciousMax = 4
)

// ThreatInfo is the verdict derived from analysis stats.
type ThreatInfo struct {
	Positives int
	Total     int
	Label     string
}

// ThreatLabel maps a positive count to a coarse label.
func ThreatLabel(positives int) string {
	switch {
	case positives <= 0:
		return LabelClean
	case positives <= lowRiskMax:
		return LabelLowRisk
	case positives <= suspiciousMax:
		return LabelSuspicious
	default:
		return LabelMalicious
	}
}

// ParseThreatInfo derives counts and label from stats. Positives are malicious plus
// suspicious verdicts; the total also counts harmless and undetected ones.
func ParseThreatInfo(stats *scan.Stats) ThreatInfo {
	if stats == nil {
		return ThreatInfo{Label: LabelUnknown}
	}

	positives := stats.Malicious + stats.Suspicious

	return ThreatInfo{
		Positives: positives,
		Total:     positives + stats.Harmless + stats.Undetected,
		Label:     ThreatLabel(positives),
	}
}
