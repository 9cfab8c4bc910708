package engine

import (
	"sort"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

// Tier is one band of the prescriptive scoring ladder.
type Tier struct {
	MinFailuresExclusive int64
	RiskScore            int
	Action               string
	Automated            bool
}

// Tiers is ordered from most to least severe; the first matching band wins.
var Tiers = []Tier{
	{MinFailuresExclusive: 50, RiskScore: 95, Action: "IMMEDIATE: Suspend account and block IP address", Automated: true},
	{MinFailuresExclusive: 20, RiskScore: 85, Action: "HIGH PRIORITY: Quarantine user and investigate"},
	{MinFailuresExclusive: 10, RiskScore: 70, Action: "MEDIUM: Enable MFA and alert security team"},
}

// FallbackTier applies when no band in Tiers matches.
var FallbackTier = Tier{RiskScore: 50, Action: "LOW: Continue monitoring"}

// Prescribe maps a failure count to its tier.
func Prescribe(authFailures int64) Tier {
	for _, tier := range Tiers {
		if authFailures > tier.MinFailuresExclusive {
			return tier
		}
	}
	return FallbackTier
}

// BuildRecommendations scores every rollup with at least one failure, orders
// by (risk_score desc, auth_failures desc) and keeps at most limit rows. A
// non-positive limit keeps everything.
func BuildRecommendations(rollups []models.ActivityRollup, limit int) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(rollups))
	for _, r := range rollups {
		if r.AuthFailures <= 0 {
			continue
		}
		tier := Prescribe(r.AuthFailures)
		recs = append(recs, models.Recommendation{
			IPAddress:              r.IPAddress,
			UserPrincipalName:      r.UserPrincipalName,
			TotalEvents:            r.TotalEvents,
			AuthFailures:           r.AuthFailures,
			BruteForceAttempts:     r.BruteForceAttempts,
			LastActivity:           r.LastActivity,
			RiskScore:              tier.RiskScore,
			RecommendedAction:      tier.Action,
			TriggerAutomatedAction: tier.Automated,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].RiskScore != recs[j].RiskScore {
			return recs[i].RiskScore > recs[j].RiskScore
		}
		return recs[i].AuthFailures > recs[j].AuthFailures
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
