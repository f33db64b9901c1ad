package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Roster is the team roster surface the handlers depend on.
type Roster interface {
	GetRoster(ctx context.Context) (*models.Roster, error)
	AddPlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	RemovePlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	MovePlayer(ctx context.Context, name string, from, to models.Team) (*models.Roster, error)
}

type playerRequest struct {
	Team string `json:"team" validate:"required"`
	Name string `json:"name" validate:"required,max=64"`
}

type moveRequest struct {
	Name string `json:"name" validate:"required,max=64"`
	From string `json:"from" validate:"required"`
	To   string `json:"to"   validate:"required,nefield=From"`
}

// NewGetRosterHandler returns an http.HandlerFunc for GET /api/v1/roster.
func NewGetRosterHandler(ro Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roster, err := ro.GetRoster(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, roster)
	}
}

// NewAddPlayerHandler returns an http.HandlerFunc for POST /api/v1/roster/players.
func NewAddPlayerHandler(ro Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req playerRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		team, name, ok := validPlayer(w, req)
		if !ok {
			return
		}

		current, err := ro.GetRoster(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if current.Contains(team, name) || current.Contains(team.Other(), name) {
			response.Error(w, http.StatusConflict, "PLAYER_EXISTS", name+" is already on the roster", nil)
			return
		}

		roster, err := ro.AddPlayer(r.Context(), team, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, roster)
	}
}

// NewRemovePlayerHandler returns an http.HandlerFunc for
// DELETE /api/v1/roster/players?team=&name=.
func NewRemovePlayerHandler(ro Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{Team: r.URL.Query().Get("team"), Name: r.URL.Query().Get("name")}
		team, name, ok := validPlayer(w, req)
		if !ok {
			return
		}

		current, err := ro.GetRoster(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !current.Contains(team, name) {
			response.Error(w, http.StatusNotFound, "PLAYER_NOT_FOUND", name+" is not on team "+string(team), nil)
			return
		}

		roster, err := ro.RemovePlayer(r.Context(), team, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, roster)
	}
}

// NewMovePlayerHandler returns an http.HandlerFunc for POST /api/v1/roster/players/move.
func NewMovePlayerHandler(ro Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moveRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := validate.Struct(req); err != nil {
			badRequest(w, "name, from and to are required and teams must differ")
			return
		}
		from, err := models.ParseTeam(req.From)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		to, err := models.ParseTeam(req.To)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if from == to {
			badRequest(w, "from and to must be different teams")
			return
		}

		current, err := ro.GetRoster(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !current.Contains(from, req.Name) {
			response.Error(w, http.StatusNotFound, "PLAYER_NOT_FOUND", req.Name+" is not on team "+string(from), nil)
			return
		}

		roster, err := ro.MovePlayer(r.Context(), req.Name, from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, roster)
	}
}

func validPlayer(w http.ResponseWriter, req playerRequest) (models.Team, string, bool) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		badRequest(w, "team and name are required")
		return "", "", false
	}
	team, err := models.ParseTeam(req.Team)
	if err != nil {
		badRequest(w, err.Error())
		return "", "", false
	}
	return team, req.Name, true
}
