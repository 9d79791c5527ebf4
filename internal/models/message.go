package models

import "encoding/json"

// EventType identifies a frame on the signaling socket.
type EventType string

// Client -> server events.
const (
	EventRegister   EventType = "register"
	EventFind       EventType = "find"
	EventStopSearch EventType = "stop-search"
	EventMediaReady EventType = "media-ready"
	EventSkip       EventType = "skip"
	EventStop       EventType = "stop"
	EventStopCall   EventType = "stop-call" // legacy alias for stop
	EventWhoami     EventType = "whoami"
)

// WebRTC signaling events, relayed verbatim in both directions.
const (
	EventOffer     EventType = "offer"
	EventAnswer    EventType = "answer"
	EventCandidate EventType = "ice-candidate"
)

// Server -> client events.
const (
	EventConnected           EventType = "connected"
	EventRegistered          EventType = "registered"
	EventSearching           EventType = "searching"
	EventFound               EventType = "found"
	EventPartnerSkipped      EventType = "partner-skipped"
	EventPartnerStopped      EventType = "partner-stopped"
	EventPartnerDisconnected EventType = "partner-disconnected"
	EventOnlineCount         EventType = "online-count"
)

// ClientMessage is an inbound frame. Fields are populated depending on Type;
// Payload carries SDP/ICE data and is never parsed by the server.
type ClientMessage struct {
	Type    EventType       `json:"type"`
	Name    string          `json:"name,omitempty"`
	Ready   bool            `json:"ready,omitempty"`
	To      string          `json:"to,omitempty"`
	MatchID string          `json:"matchId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a plain server frame with no payload beyond identity fields
// (connected, registered, searching, partner-*, whoami).
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

// Found tells one side of a fresh pair who its partner is. Exactly one side
// of every pair gets Initiator=true.
type Found struct {
	Type        EventType `json:"type"`
	PartnerID   string    `json:"partnerId"`
	PartnerName string    `json:"partnerName"`
	MatchID     string    `json:"matchId"`
	Initiator   bool      `json:"initiator"`
}

// Signal is a relayed offer/answer/ice-candidate frame.
type Signal struct {
	Type    EventType       `json:"type"`
	From    string          `json:"from"`
	MatchID string          `json:"matchId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OnlineCount is the aggregate presence snapshot broadcast after every
// state change.
type OnlineCount struct {
	Type          EventType `json:"type"`
	Total         int       `json:"total"`
	Ready         int       `json:"ready"`
	Waiting       int       `json:"waiting"`
	ActiveMatches int       `json:"activeMatches"`
}
