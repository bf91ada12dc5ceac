package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/domain"
)

// ─── Membership API ─────────────────────────────────────────────────────────
//
// GET  /api/registry                   registry addresses, policy, metadata
// GET  /api/supply                     current totals
// POST /api/members                    mint a certificate into an account
// POST /api/rewards                    issue a task reward to a member
// POST /api/rewards/dual               issue the fixed 13/7 dual reward
// POST /api/fees                       deposit into the fee reserve
// GET  /api/accounts/{account}         balances and held certificates
// GET  /api/certificates/{id}          one certificate
// PUT  /api/certificates/{id}/level    owner-signed level update

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", traceID(r)),
			zap.Error(err))
	}
	writeError(w, status, kind, err.Error())
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

// handleRegistry describes the registry.
// GET /api/registry
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.svc.Registry()
	state := reg.State(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":           state.Address,
		"owner":             state.Owner,
		"reward_resource":   state.RewardResource,
		"bonus_resource":    state.BonusResource,
		"card_resource":     state.CardResource,
		"max_reward_amount": state.MaxRewardAmount,
		"created_at":        state.CreatedAt,
		"metadata": map[string]domain.ResourceMetadata{
			string(domain.KindRewardCredit): domain.DefaultMetadata(domain.KindRewardCredit),
			string(domain.KindBonusCredit):  domain.DefaultMetadata(domain.KindBonusCredit),
			string(domain.KindMemberCard):   domain.DefaultMetadata(domain.KindMemberCard),
		},
	})
}

// handleSupply returns the registry totals.
// GET /api/supply
func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Registry().Supply(r.Context()))
}

// handleJoin mints a certificate into an account.
// POST /api/members
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := s.validate.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	cert, err := s.svc.Join(r.Context(), domain.Address(req.Account))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"account":     req.Account,
		"certificate": cert,
	})
}

// handleReward issues a task reward.
// POST /api/rewards
func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := s.validate.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	task, err := domain.ParseTask(req.Task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.svc.Reward(r.Context(), domain.Address(req.Account), task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": req.Account,
		"task":    task.Kind(),
		"reward":  b,
	})
}

// handleDualReward issues the fixed dual reward.
// POST /api/rewards/dual
func (s *Server) handleDualReward(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := s.validate.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	reward, bonus, err := s.svc.DualReward(r.Context(), domain.Address(req.Account))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": req.Account,
		"reward":  reward,
		"bonus":   bonus,
	})
}

// handleDepositFee tops up the fee reserve. Anyone may call it, and the
// account may be omitted.
// POST /api/fees
func (s *Server) handleDepositFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := s.validate.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.svc.DepositFee(r.Context(), domain.Address(req.Account), req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deposited":   req.Amount,
		"fee_reserve": s.svc.Registry().FeeReserve(r.Context()),
	})
}

// handleAccount returns balances and held certificates.
// GET /api/accounts/{account}
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.svc.Balances(r.Context(), domain.Address(chi.URLParam(r, "account")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleCertificate returns one certificate.
// GET /api/certificates/{id}
func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	cert, err := s.svc.Registry().Certificate(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// handleUpdateLevel changes a certificate's level. The signer must be the
// registry owner.
// PUT /api/certificates/{id}/level
func (s *Server) handleUpdateLevel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req levelRequest
	if err := s.validate.decode(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	cert, err := s.svc.UpdateLevel(r.Context(), domain.Address(req.Signer), id, req.Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}
