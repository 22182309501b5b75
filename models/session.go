package models

import "time"

// Session groups the turns of one conversation.
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	TurnIDs   []string  `json:"turnIds" yaml:"turn_ids"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// DefaultSessionTitle is used until the first turn names the session.
const DefaultSessionTitle = "New session"
