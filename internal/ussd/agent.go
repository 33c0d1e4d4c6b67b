package ussd

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/signalbox/internal/session"
)

// Find agent steps.
const (
	agentStart = iota
	agentLocation
)

func (r *Router) handleAgent(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case agentStart:
		return s.Next(agentLocation), r.con(r.t(s, "agent_enter_location"))

	case agentLocation:
		prompt := r.t(s, "agent_enter_location")
		location := strings.Join(strings.Fields(in), " ")
		if location == "" {
			return s, r.con(prompt)
		}
		cctx, cancel := r.call(ctx)
		agents, err := r.backend.FindNearby(cctx, location)
		cancel()
		if err != nil {
			return r.unavailable(ctx, s, "find_agents", err, prompt)
		}
		if len(agents) == 0 {
			return s, r.con(r.f(s, "agent_none_found", location))
		}
		lines := make([]string, 0, len(agents))
		for _, a := range agents {
			lines = append(lines, strings.TrimSpace(fmt.Sprintf("%s %s %s", a.Code, a.Name, a.Phone)))
		}
		return s, r.end(s, r.f(s, "agent_list", location, numbered(lines)))
	}
	return r.enter(ctx, s, session.MenuMain)
}
