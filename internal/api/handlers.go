// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/stats"
	"github.com/NyaDerator/DiscordBridgeMC/internal/validation"
	"github.com/NyaDerator/DiscordBridgeMC/pkg/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 16 << 10

// ExecuteRequest is the body of POST /v1/execute.
type ExecuteRequest struct {
	Requester string `json:"requester" validate:"required,max=64"`
	Target    string `json:"target,omitempty" validate:"omitempty,max=16"`
	Command   string `json:"command" validate:"required,max=256"`
}

// ExecuteResponse is the body of a successful execute.
type ExecuteResponse struct {
	RequestID    string `json:"request_id"`
	Code         string `json:"code"`
	Reason       string `json:"reason"`
	Command      string `json:"command"`
	FinalCommand string `json:"final_command"`
	Target       string `json:"target,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, oops.Code(CodeBadRequest).Wrapf(err, "invalid request body"))
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	if s.limiter != nil {
		if ok, wait := s.limiter.Allow(req.Requester); !ok {
			w.Header().Set("Retry-After", retryAfter(wait))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Code:        CodeRateLimited,
				Reason:      "Too many requests. Slow down.",
				RemainingMS: wait.Milliseconds(),
			})
			return
		}
	}

	v := s.deps.Gateway.Handle(r.Context(), gateway.Request{
		Requester: req.Requester,
		Target:    req.Target,
		Command:   req.Command,
	})

	if v.OK() {
		writeJSON(w, http.StatusOK, ExecuteResponse{
			RequestID:    v.RequestID.String(),
			Code:         "OK",
			Reason:       gateway.Reason(nil),
			Command:      v.Command,
			FinalCommand: v.FinalCommand,
			Target:       v.Target,
			ActorID:      v.ActorID,
			DurationMS:   v.Duration.Milliseconds(),
		})
		return
	}

	code := v.Code()
	if code == "" {
		code = gateway.CodeInternalError
	}
	resp := ErrorResponse{
		RequestID: v.RequestID.String(),
		Code:      code,
		Reason:    gateway.Reason(v.Err),
		Stage:     v.Stage.String(),
		Output:    v.Output,
	}
	if ms, ok := gateway.RemainingMillis(v.Err); ok {
		resp.RemainingMS = ms
		w.Header().Set("Retry-After", retryAfter(time.Duration(ms)*time.Millisecond))
	}
	writeJSON(w, StatusFor(code), resp)
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Version   string          `json:"version,omitempty"`
	Config    ConfigStatus    `json:"config"`
	Server    *ServerStatus   `json:"server,omitempty"`
	Players   int             `json:"players"`
	Cooldowns CooldownsStatus `json:"cooldowns"`
	Stats     *stats.Summary  `json:"stats,omitempty"`
}

// ConfigStatus describes the active configuration snapshot.
type ConfigStatus struct {
	Generation uint64    `json:"generation"`
	LoadedAt   time.Time `json:"loaded_at"`
	Rules      int       `json:"rules"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// ServerStatus describes the game server process.
type ServerStatus struct {
	Running bool `json:"running"`
	Ready   bool `json:"ready"`
}

// CooldownsStatus lists active cooldowns in milliseconds.
type CooldownsStatus struct {
	GlobalMS int64            `json:"global_ms"`
	Actors   map[string]int64 `json:"actors,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Version: s.version}

	if snap := s.deps.Config.Current(); snap != nil {
		resp.Config = ConfigStatus{
			Generation: snap.Generation,
			LoadedAt:   snap.LoadedAt,
			Rules:      len(snap.Engine.Rules()),
			Warnings:   snap.Warnings,
		}
	}
	if s.deps.Server != nil {
		resp.Server = &ServerStatus{Running: s.deps.Server.Running(), Ready: s.deps.Server.Ready()}
	}
	if s.deps.Players != nil {
		resp.Players = len(s.deps.Players.Online())
	}
	if s.deps.Cooldowns != nil {
		resp.Cooldowns.GlobalMS = s.deps.Cooldowns.GlobalRemaining().Milliseconds()
		active := s.deps.Cooldowns.Snapshot()
		if len(active) > 0 {
			resp.Cooldowns.Actors = make(map[string]int64, len(active))
			for actor, rem := range active {
				resp.Cooldowns.Actors[actor] = rem.Milliseconds()
			}
		}
	}
	if s.deps.Stats != nil {
		summary, err := s.deps.Stats.Summary(r.Context())
		if err != nil {
			errutil.LogErrorContext(r.Context(), s.logger, "stats summary failed", err)
		} else {
			resp.Stats = &summary
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PlayerResponse is one entry of GET /v1/players.
type PlayerResponse struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// PlayersResponse is the body of GET /v1/players.
type PlayersResponse struct {
	Count   int              `json:"count"`
	Players []PlayerResponse `json:"players"`
}

func (s *Server) handlePlayers(w http.ResponseWriter, _ *http.Request) {
	resp := PlayersResponse{Players: []PlayerResponse{}}
	if s.deps.Players != nil {
		for _, a := range s.deps.Players.Online() {
			resp.Players = append(resp.Players, PlayerResponse{Name: a.Name, ID: a.ID})
		}
		sort.Slice(resp.Players, func(i, j int) bool {
			return resp.Players[i].Name < resp.Players[j].Name
		})
	}
	resp.Count = len(resp.Players)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetPlayer(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	if err := s.deps.Gateway.ResetCooldown(player); err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "cooldown reset", "player", player)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetGlobal(w http.ResponseWriter, r *http.Request) {
	s.deps.Gateway.ResetGlobalCooldown()
	s.logger.InfoContext(r.Context(), "global cooldown reset")
	w.WriteHeader(http.StatusNoContent)
}

// ReloadResponse is the body of a successful POST /v1/admin/reload.
type ReloadResponse struct {
	Generation uint64   `json:"generation"`
	Rules      int      `json:"rules"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reloader == nil {
		writeError(w, oops.Code(CodeUnavailable).Errorf("reload is not configured"))
		return
	}
	snap, err := s.deps.Reloader.Reload(r.Context())
	if err != nil {
		code := gateway.Code(err)
		if code == "" {
			code = config.CodeLoadFailed
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Code:   code,
			Reason: err.Error(),
			Fields: validation.Fields(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{
		Generation: snap.Generation,
		Rules:      len(snap.Engine.Rules()),
		Warnings:   snap.Warnings,
	})
}
