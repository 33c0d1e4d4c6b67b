package ussd

import (
	"context"
	"strconv"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

// DAO voting steps.
const (
	daoStart = iota
	daoPick
	daoChoice
	daoPIN
)

// voteChoices maps ballot digits to choices.
var voteChoices = map[string]ledger.VoteChoice{
	"1": ledger.VoteYes,
	"2": ledger.VoteNo,
	"3": ledger.VoteAbstain,
}

func (r *Router) handleDAO(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case daoStart:
		if _, s, reply, ok := r.requireAccount(ctx, s); !ok {
			return s, reply
		}
		props, err := r.proposals(ctx)
		if err != nil {
			return r.failed(ctx, s, "proposals", err)
		}
		if len(props) == 0 {
			return s, r.end(s, r.t(s, "dao_no_proposals"))
		}
		return s.Next(daoPick), r.con(r.proposalList(s, props))

	case daoPick:
		props, err := r.proposals(ctx)
		if err != nil {
			return r.failed(ctx, s, "proposals", err)
		}
		if len(props) == 0 {
			return s, r.end(s, r.t(s, "dao_no_proposals"))
		}
		n, err := strconv.Atoi(in)
		if err != nil || n < 1 || n > len(props) {
			return s, r.retry(s, r.t(s, "invalid_option"), r.proposalList(s, props))
		}
		p := props[n-1]
		s.Draft.ProposalID = p.ID
		s.Draft.ProposalTitle = p.Title
		return s.Next(daoChoice), r.con(r.f(s, "dao_vote", p.Title))

	case daoChoice:
		choice, ok := voteChoices[in]
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_option"), r.f(s, "dao_vote", s.Draft.ProposalTitle))
		}
		s.Draft.Vote = string(choice)
		return s.Next(daoPIN), r.con(r.voteSummary(s))

	case daoPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.voteSummary(s))
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		res, err := r.backend.CastVote(cctx, r.ref(s), s.Draft.ProposalID, ledger.VoteChoice(s.Draft.Vote))
		cancel()
		if err != nil {
			metrics.RecordTransaction("vote", "error")
			return r.failed(ctx, s, "cast_vote", err)
		}
		if !res.Success {
			metrics.RecordTransaction("vote", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("vote", "success")
		return s, r.end(s, r.t(s, "dao_vote_success"))
	}
	return r.enter(ctx, s, session.MenuMain)
}

func (r *Router) proposals(ctx context.Context) ([]ledger.Proposal, error) {
	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.Proposals(cctx)
}

func (r *Router) proposalList(s session.Session, props []ledger.Proposal) string {
	titles := make([]string, len(props))
	for i, p := range props {
		titles[i] = p.Title
	}
	return r.f(s, "dao_list", numbered(titles))
}

func (r *Router) voteSummary(s session.Session) string {
	return r.f(s, "dao_confirm", r.t(s, "vote_"+s.Draft.Vote), s.Draft.ProposalTitle)
}
