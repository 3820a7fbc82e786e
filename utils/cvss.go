package utils

import (
	"strings"

	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// ScoreFromVector computes the base score of a CVSS v3.x or v4.0 vector.
// Unknown or malformed vectors score 0.
func ScoreFromVector(vector string) float64 {
	switch {
	case strings.HasPrefix(vector, "CVSS:3.0"):
		if cvss30, err := gocvss30.ParseVector(vector); err == nil {
			return cvss30.BaseScore()
		}
	case strings.HasPrefix(vector, "CVSS:3.1"):
		if cvss31, err := gocvss31.ParseVector(vector); err == nil {
			return cvss31.BaseScore()
		}
	case strings.HasPrefix(vector, "CVSS:4.0"):
		if cvss40, err := gocvss40.ParseVector(vector); err == nil {
			return cvss40.Score()
		}
	}
	return 0
}

// SeverityRating maps a base score to its qualitative rating.
func SeverityRating(score float64) string {
	switch {
	case score == 0:
		return "NONE"
	case score < 4.0:
		return "LOW"
	case score < 7.0:
		return "MEDIUM"
	case score < 9.0:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}
