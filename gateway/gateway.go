// Package gateway exposes the community ledger's read-only query surface
// over REST. Mutations go through the JSON-RPC server only.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"communityledger/crypto"
	"communityledger/native/community"
)

type Server struct {
	engine *community.Engine
	log    *slog.Logger
}

// New builds a gateway around the given engine.
func New(engine *community.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, log: logger}
}

// Router mounts the query routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1/community", func(cr chi.Router) {
		cr.Get("/stats", s.handleStats)
		cr.Get("/contributions", s.handleContributions)
		cr.Get("/periods/current", s.handleCurrentPeriod)
		cr.Get("/periods/{periodID}", s.handlePeriod)
		cr.Get("/periods/{periodID}/points/{address}", s.handleUserPoints)
		cr.Get("/periods/{periodID}/claimable/{address}", s.handleClaimable)
	})
	return r
}

type statsPayload struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Admin              string `json:"admin"`
	TotalContributions uint64 `json:"totalContributions"`
	CurrentPeriodID    uint64 `json:"currentPeriodId"`
	CreatedAt          int64  `json:"createdAt"`
}

type contributionPayload struct {
	ID          uint64 `json:"id"`
	Contributor string `json:"contributor"`
	Title       string `json:"title"`
	Points      uint64 `json:"points"`
	CreatedAt   int64  `json:"createdAt"`
	PeriodID    uint64 `json:"periodId"`
}

type periodPayload struct {
	ID          uint64 `json:"id"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	TotalPoints uint64 `json:"totalPoints"`
	RewardPool  string `json:"rewardPool"`
	Active      bool   `json:"active"`
}

type pointsPayload struct {
	User           string `json:"user"`
	PeriodID       uint64 `json:"periodId"`
	Points         uint64 `json:"points"`
	LifetimePoints uint64 `json:"lifetimePoints"`
}

type claimablePayload struct {
	User     string `json:"user"`
	PeriodID uint64 `json:"periodId"`
	Amount   string `json:"amount"`
	Claimed  bool   `json:"claimed"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("write gateway response", "err", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, community.ErrPeriodNotFound) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, errorPayload{Error: err.Error()})
}

func pathPeriodID(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "periodID"))
	return strconv.ParseUint(raw, 10, 64)
}

func pathAddress(r *http.Request) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, "address")))
	if err != nil {
		return [20]byte{}, err
	}
	return [20]byte(addr), nil
}

func periodToPayload(p *community.Period) periodPayload {
	pool := "0"
	if p.RewardPool != nil {
		pool = p.RewardPool.String()
	}
	return periodPayload{
		ID:          p.ID,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		TotalPoints: p.TotalPoints,
		RewardPool:  pool,
		Active:      p.Active,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsPayload{
		Name:               stats.Name,
		Description:        stats.Description,
		Admin:              crypto.Address(stats.Admin).String(),
		TotalContributions: stats.TotalContributions,
		CurrentPeriodID:    stats.CurrentPeriodID,
		CreatedAt:          stats.CreatedAt,
	})
}

func (s *Server) handleContributions(w http.ResponseWriter, _ *http.Request) {
	records, err := s.engine.Contributions()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]contributionPayload, 0, len(records))
	for _, record := range records {
		out = append(out, contributionPayload{
			ID:          record.ID,
			Contributor: crypto.Address(record.Contributor).String(),
			Title:       record.Title,
			Points:      record.Points,
			CreatedAt:   record.CreatedAt,
			PeriodID:    record.PeriodID,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrentPeriod(w http.ResponseWriter, _ *http.Request) {
	current, err := s.engine.CurrentPeriodID()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	period, err := s.engine.PeriodInfo(current)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, periodToPayload(period))
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathPeriodID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid period id"})
		return
	}
	period, err := s.engine.PeriodInfo(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, periodToPayload(period))
}

func (s *Server) handleUserPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathPeriodID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid period id"})
		return
	}
	user, err := pathAddress(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid address"})
		return
	}
	points, err := s.engine.UserPoints(user, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	lifetime, err := s.engine.LifetimePoints(user)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pointsPayload{
		User:           crypto.Address(user).String(),
		PeriodID:       id,
		Points:         points,
		LifetimePoints: lifetime,
	})
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := pathPeriodID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid period id"})
		return
	}
	user, err := pathAddress(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid address"})
		return
	}
	amount, err := s.engine.ClaimableAmount(user, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	claimed, err := s.engine.HasClaimed(user, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, claimablePayload{
		User:     crypto.Address(user).String(),
		PeriodID: id,
		Amount:   amount.String(),
		Claimed:  claimed,
	})
}
