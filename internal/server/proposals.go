package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/proposal"
	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

type createProposalRequest struct {
	ClusterID   int64                    `json:"cluster_id" validate:"required"`
	Title       string                   `json:"title" validate:"required,max=255"`
	Description string                   `json:"description"`
	Reason      string                   `json:"reason"`
	Operations  []types.OperationPayload `json:"operations" validate:"required,min=1,dive"`
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var in createProposalRequest
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	p, err := s.engine.Create(r.Context(), proposal.CreateInput{
		ClusterID:   in.ClusterID,
		ActorID:     actorID(r),
		Title:       in.Title,
		Description: in.Description,
		Reason:      in.Reason,
		Operations:  in.Operations,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type legacyProposalRequest struct {
	ClusterID  int64  `json:"cluster_id" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=grant_select revoke_select"`
	DBName     string `json:"db_name" validate:"required"`
	TableName  string `json:"table_name"`
	TargetType string `json:"target_type" validate:"required,oneof=user role"`
	TargetName string `json:"target_name" validate:"required"`
	Reason     string `json:"reason"`
}

func (s *Server) createLegacyProposal(w http.ResponseWriter, r *http.Request) {
	var in legacyProposalRequest
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	p, err := s.engine.CreateLegacy(r.Context(), proposal.LegacyInput{
		ClusterID:  in.ClusterID,
		ActorID:    actorID(r),
		Type:       types.ProposalType(in.Type),
		DBName:     in.DBName,
		TableName:  in.TableName,
		TargetType: in.TargetType,
		TargetName: in.TargetName,
		Reason:     in.Reason,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	filter := storage.ProposalFilter{
		Status: types.ProposalStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 100),
	}
	if clusterID, ok := queryInt64(r, "cluster_id"); ok {
		filter.ClusterID = &clusterID
	}
	proposals, err := s.store.ListProposals(r.Context(), filter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	p, err := s.store.GetProposal(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	ops, err := s.store.ListOperations(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	reviews, err := s.store.ListReviews(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal":   p,
		"operations": ops,
		"reviews":    reviews,
	})
}

type reviewRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) approveProposal(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.engine.Approve)
}

func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.engine.Reject)
}

type reviewFunc func(ctx context.Context, id, reviewerID int64, comment string) (*types.Proposal, error)

func (s *Server) review(w http.ResponseWriter, r *http.Request, decide reviewFunc) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	var in reviewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	p, err := decide(r.Context(), id, actorID(r), in.Comment)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) dryRunProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	result, err := s.engine.DryRun(r.Context(), id, actorID(r))
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) executeProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	p, result, err := s.engine.Execute(r.Context(), id, actorID(r))
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": p, "job": result})
}

// writeExecutionError maps executor transport failures to 502; state and
// lookup errors keep their usual codes.
func (s *Server) writeExecutionError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrInvalidState) ||
		errors.Is(err, storage.ErrConflict) {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Error("executor call failed", zap.Error(err))
	writeErrorMessage(w, http.StatusBadGateway, "executor error: "+err.Error())
}

func (s *Server) listProposalJobs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	jobs, err := s.engine.Jobs(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
