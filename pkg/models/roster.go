package models

import (
	"fmt"
	"strings"
)

// Team is one of the two squads the roster tracks.
type Team string

const (
	TeamBlue  Team = "blue"
	TeamBlack Team = "black"
)

// ParseTeam accepts the panel names and the backend's original ones.
func ParseTeam(s string) (Team, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blue", "azul":
		return TeamBlue, nil
	case "black", "preto":
		return TeamBlack, nil
	}
	return "", fmt.Errorf("unknown team %q", s)
}

// Other returns the opposite team.
func (t Team) Other() Team {
	if t == TeamBlue {
		return TeamBlack
	}
	return TeamBlue
}

// Roster lists player names per team.
type Roster struct {
	Blue  []string `json:"blue"`
	Black []string `json:"black"`
}

// Players returns the list for team.
func (r Roster) Players(t Team) []string {
	if t == TeamBlack {
		return r.Black
	}
	return r.Blue
}

// Contains reports whether name is on team, ignoring case.
func (r Roster) Contains(t Team, name string) bool {
	for _, p := range r.Players(t) {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// Athlete is a reference identity known to the backend.
type Athlete struct {
	Name         string `json:"name"`
	Photos       int    `json:"photos"`
	HasEmbedding bool   `json:"has_embedding"`
}
