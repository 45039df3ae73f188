package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"communityledger/crypto"
	"communityledger/native/community"
	"communityledger/observability/metrics"
)

type addContributionParams struct {
	Caller      string `json:"caller"`
	Contributor string `json:"contributor"`
	Title       string `json:"title"`
	Points      uint64 `json:"points"`
}

type depositRewardsParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type closePeriodParams struct {
	Caller string `json:"caller"`
}

type claimRewardsParams struct {
	Caller   string `json:"caller"`
	PeriodID uint64 `json:"periodId"`
}

type updateAdminParams struct {
	Caller   string `json:"caller"`
	NewAdmin string `json:"newAdmin"`
}

type periodQueryParams struct {
	PeriodID uint64 `json:"periodId"`
}

type userPointsParams struct {
	User     string `json:"user"`
	PeriodID uint64 `json:"periodId"`
}

type contributionResult struct {
	ID          uint64 `json:"id"`
	Contributor string `json:"contributor"`
	Title       string `json:"title"`
	Points      uint64 `json:"points"`
	CreatedAt   int64  `json:"createdAt"`
	PeriodID    uint64 `json:"periodId"`
}

type periodResult struct {
	ID          uint64 `json:"id"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	TotalPoints uint64 `json:"totalPoints"`
	RewardPool  string `json:"rewardPool"`
	Active      bool   `json:"active"`
}

type claimResult struct {
	User     string `json:"user"`
	PeriodID uint64 `json:"periodId"`
	Amount   string `json:"amount"`
}

type userPointsResult struct {
	User           string `json:"user"`
	PeriodID       uint64 `json:"periodId"`
	Points         uint64 `json:"points"`
	LifetimePoints uint64 `json:"lifetimePoints"`
}

type claimableResult struct {
	User     string `json:"user"`
	PeriodID uint64 `json:"periodId"`
	Amount   string `json:"amount"`
	Claimed  bool   `json:"claimed"`
}

type statsResult struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Admin              string `json:"admin"`
	TotalContributions uint64 `json:"totalContributions"`
	CurrentPeriodID    uint64 `json:"currentPeriodId"`
	CreatedAt          int64  `json:"createdAt"`
}

func parseAddr(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return [20]byte(addr), nil
}

func formatAddr(addr [20]byte) string {
	return crypto.Address(addr).String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

func contributionToResult(c *community.Contribution) contributionResult {
	return contributionResult{
		ID:          c.ID,
		Contributor: formatAddr(c.Contributor),
		Title:       c.Title,
		Points:      c.Points,
		CreatedAt:   c.CreatedAt,
		PeriodID:    c.PeriodID,
	}
}

func periodToResult(p *community.Period) periodResult {
	pool := "0"
	if p.RewardPool != nil {
		pool = p.RewardPool.String()
	}
	return periodResult{
		ID:          p.ID,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		TotalPoints: p.TotalPoints,
		RewardPool:  pool,
		Active:      p.Active,
	}
}

func (s *Server) handleAddContribution(w http.ResponseWriter, req *RPCRequest) {
	var params addContributionParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid caller address")
		return
	}
	contributor, err := parseAddr(params.Contributor)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid contributor address")
		return
	}
	record, err := s.engine.AddContribution(caller, contributor, params.Title, params.Points)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	metrics.Community().ObserveContribution(record.Points)
	s.writeResult(w, req.ID, contributionToResult(record))
}

func (s *Server) handleDepositRewards(w http.ResponseWriter, req *RPCRequest) {
	var params depositRewardsParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid caller address")
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	period, err := s.engine.DepositRewards(caller, amount)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	metrics.Community().ObserveDeposit(amount)
	s.writeResult(w, req.ID, periodToResult(period))
}

func (s *Server) handleClosePeriod(w http.ResponseWriter, req *RPCRequest) {
	var params closePeriodParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid caller address")
		return
	}
	closed, err := s.engine.ClosePeriod(caller)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	metrics.Community().SetCurrentPeriod(closed.ID + 1)
	s.writeResult(w, req.ID, periodToResult(closed))
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, req *RPCRequest) {
	var params claimRewardsParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid caller address")
		return
	}
	amount, err := s.engine.ClaimRewards(caller, params.PeriodID)
	if err != nil {
		metrics.Community().ObserveRejectedClaim(rejectionReason(err))
		s.writeEngineError(w, req.ID, err)
		return
	}
	metrics.Community().ObserveClaim(amount)
	s.writeResult(w, req.ID, claimResult{
		User:     params.Caller,
		PeriodID: params.PeriodID,
		Amount:   amount.String(),
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, community.ErrPeriodNotFound):
		return "period_not_found"
	case errors.Is(err, community.ErrPeriodStillActive):
		return "period_still_active"
	case errors.Is(err, community.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, community.ErrNoPointsInPeriod):
		return "no_points"
	case errors.Is(err, community.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "other"
	}
}

func (s *Server) handleUpdateAdmin(w http.ResponseWriter, req *RPCRequest) {
	var params updateAdminParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid caller address")
		return
	}
	newAdmin, err := parseAddr(params.NewAdmin)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid newAdmin address")
		return
	}
	if err := s.engine.UpdateAdmin(caller, newAdmin); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, map[string]string{"admin": params.NewAdmin})
}

func (s *Server) handleGetContributions(w http.ResponseWriter, req *RPCRequest) {
	records, err := s.engine.Contributions()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	out := make([]contributionResult, 0, len(records))
	for _, record := range records {
		out = append(out, contributionToResult(record))
	}
	s.writeResult(w, req.ID, out)
}

func (s *Server) handleGetTotalContributions(w http.ResponseWriter, req *RPCRequest) {
	total, err := s.engine.TotalContributions()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, map[string]uint64{"total": total})
}

func (s *Server) handleGetPeriodInfo(w http.ResponseWriter, req *RPCRequest) {
	var params periodQueryParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	period, err := s.engine.PeriodInfo(params.PeriodID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, periodToResult(period))
}

func (s *Server) handleGetCurrentPeriod(w http.ResponseWriter, req *RPCRequest) {
	current, err := s.engine.CurrentPeriodID()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, map[string]uint64{"currentPeriodId": current})
}

func (s *Server) handleGetUserPoints(w http.ResponseWriter, req *RPCRequest) {
	var params userPointsParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	user, err := parseAddr(params.User)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid user address")
		return
	}
	points, err := s.engine.UserPoints(user, params.PeriodID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	lifetime, err := s.engine.LifetimePoints(user)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, userPointsResult{
		User:           params.User,
		PeriodID:       params.PeriodID,
		Points:         points,
		LifetimePoints: lifetime,
	})
}

func (s *Server) handleGetClaimableAmount(w http.ResponseWriter, req *RPCRequest) {
	var params userPointsParams
	if err := decodeParams(req, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	user, err := parseAddr(params.User)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, "invalid user address")
		return
	}
	amount, err := s.engine.ClaimableAmount(user, params.PeriodID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	claimed, err := s.engine.HasClaimed(user, params.PeriodID)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, claimableResult{
		User:     params.User,
		PeriodID: params.PeriodID,
		Amount:   amount.String(),
		Claimed:  claimed,
	})
}

func (s *Server) handleGetCommunityStats(w http.ResponseWriter, req *RPCRequest) {
	stats, err := s.engine.Stats()
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, statsResult{
		Name:               stats.Name,
		Description:        stats.Description,
		Admin:              formatAddr(stats.Admin),
		TotalContributions: stats.TotalContributions,
		CurrentPeriodID:    stats.CurrentPeriodID,
		CreatedAt:          stats.CreatedAt,
	})
}
