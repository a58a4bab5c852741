package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solvys-technologies/pulse-sub000/internal/bridge"
	"github.com/solvys-technologies/pulse-sub000/internal/contract"
	"github.com/solvys-technologies/pulse-sub000/internal/session"
	"github.com/solvys-technologies/pulse-sub000/internal/version"
)

type accountRequest struct {
	AccountID int64 `json:"accountId"`
}

type contractRequest struct {
	AccountID  int64  `json:"accountId"`
	ContractID string `json:"contractId"`
	Symbol     string `json:"symbol"`
	Live       *bool  `json:"live"`
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  version.Get(),
		"sessions": s.sessions.Len(),
		"streams":  s.sessions.StateCounts(),
		"time":     time.Now().UTC(),
	})
}

func (s *Server) postStart(c *gin.Context) {
	var req accountRequest
	if !bindAccount(c, &req) {
		return
	}

	user := s.userID(c)
	sess, created, err := s.sessions.Start(c.Request.Context(), user, req.AccountID)
	if err != nil {
		s.logger.Warn("session start failed", "user", user, "account", req.AccountID, "error", err)
		fail(c, http.StatusOK, "failed to start realtime session: "+err.Error())
		return
	}

	message := "realtime session already running"
	if created {
		message = "realtime session started"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"created": created,
		"session": sess.Status(),
	})
}

func (s *Server) postStop(c *gin.Context) {
	var req accountRequest
	if !bindAccount(c, &req) {
		return
	}

	user := s.userID(c)
	if err := s.sessions.Stop(c.Request.Context(), user, req.AccountID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			fail(c, http.StatusOK, "no active realtime session")
			return
		}
		// The session is gone even when a stream failed to close cleanly.
		s.logger.Warn("session stop incomplete", "user", user, "account", req.AccountID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "realtime session stopped"})
}

func (s *Server) postSubscribe(c *gin.Context) {
	s.changeSubscription(c, true)
}

func (s *Server) postUnsubscribe(c *gin.Context) {
	s.changeSubscription(c, false)
}

func (s *Server) changeSubscription(c *gin.Context, subscribe bool) {
	var req contractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID <= 0 {
		fail(c, http.StatusBadRequest, "accountId must be a positive integer")
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.ContractID == "" && req.Symbol == "" {
		fail(c, http.StatusBadRequest, "contractId or symbol is required")
		return
	}

	ctx := c.Request.Context()
	user := s.userID(c)
	key := session.Key{UserID: user, AccountID: req.AccountID}

	var resolved *contract.Contract
	if req.ContractID == "" {
		live := s.cfg.LiveContracts
		if req.Live != nil {
			live = *req.Live
		}
		ct, err := s.resolve(c, req.Symbol, live)
		if err != nil {
			fail(c, http.StatusOK, err.Error())
			return
		}
		resolved = &ct
		req.ContractID = ct.ID
	}

	op, verb := s.sessions.UnsubscribeContract, "unsubscribed from"
	if subscribe {
		op, verb = s.sessions.SubscribeContract, "subscribed to"
	}
	warnings, err := op(ctx, key, req.ContractID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			fail(c, http.StatusOK, "no active realtime session; call /realtime/start first")
			return
		}
		fail(c, http.StatusOK, err.Error())
		return
	}

	resp := gin.H{
		"success":    true,
		"message":    verb + " " + req.ContractID,
		"contractId": req.ContractID,
	}
	if resolved != nil {
		resp["contract"] = resolved
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStatus(c *gin.Context) {
	accountID, ok := queryAccount(c)
	if !ok {
		return
	}

	st, err := s.sessions.Status(session.Key{UserID: s.userID(c), AccountID: accountID})
	if err != nil {
		fail(c, http.StatusNotFound, "no active realtime session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": st})
}

func (s *Server) getPoll(c *gin.Context) {
	accountID, ok := queryAccount(c)
	if !ok {
		return
	}

	limit := s.cfg.DefaultPollLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.cfg.MaxPollLimit)
	}

	msgs, more, err := s.sessions.Poll(session.Key{UserID: s.userID(c), AccountID: accountID}, limit)
	if err != nil {
		fail(c, http.StatusNotFound, "no active realtime session")
		return
	}
	if msgs == nil {
		msgs = []bridge.QueuedMessage{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": msgs,
		"hasMore":  more,
		"count":    len(msgs),
	})
}

func (s *Server) getSessions(c *gin.Context) {
	user := s.userID(c)
	sessions := []session.Status{}
	for _, st := range s.sessions.List() {
		if st.UserID == user {
			sessions = append(sessions, st)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) getContract(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		fail(c, http.StatusBadRequest, "symbol is required")
		return
	}
	live := s.cfg.LiveContracts
	if raw := c.Query("live"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "live must be a boolean")
			return
		}
		live = v
	}

	ct, err := s.resolve(c, symbol, live)
	if err != nil {
		fail(c, http.StatusOK, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "contract": ct})
}

// resolve looks up symbol with the caller's broker credential.
func (s *Server) resolve(c *gin.Context, symbol string, live bool) (contract.Contract, error) {
	user := s.userID(c)
	cred, err := s.creds.Credential(user)
	if err != nil {
		return contract.Contract{}, err
	}
	ct, err := s.resolver.Resolve(c.Request.Context(), symbol, live, cred)
	if err != nil {
		s.logger.Info("contract resolution failed", "user", user, "symbol", symbol, "live", live, "error", err)
		return contract.Contract{}, err
	}
	return ct, nil
}

func bindAccount(c *gin.Context, req *accountRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if req.AccountID <= 0 {
		fail(c, http.StatusBadRequest, "accountId must be a positive integer")
		return false
	}
	return true
}

func queryAccount(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("accountId"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "accountId must be a positive integer")
		return 0, false
	}
	return id, true
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
