package gate

import (
	"context"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
)

type teamCheckResult struct {
	allowed bool
	reason  string
}

// checkTeamBudget wraps team.Repository.CheckAndRecord in the team-checker
// circuit breaker. Per spec.md §7, an abandoned/failing team checker
// defaults to allow rather than denying live traffic over a degraded
// external dependency.
func (g *Gate) checkTeamBudget(ctx context.Context, teamName string, amount int64) (allowed bool, reason string) {
	if g.teamRepo == nil || teamName == "" {
		return true, ""
	}

	hookCtx, cancel := context.WithTimeout(ctx, g.cfg.HookTimeout)
	defer cancel()

	result, err := g.breaker.Execute(circuitbreaker.ServiceTeamChecker, func() (interface{}, error) {
		ok, reason, err := g.teamRepo.CheckAndRecord(hookCtx, teamName, amount)
		return teamCheckResult{allowed: ok, reason: reason}, err
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("team", teamName).Msg("gate: team checker unavailable, allowing")
		return true, ""
	}

	r := result.(teamCheckResult)
	return r.allowed, r.reason
}
