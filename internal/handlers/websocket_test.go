package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// frame is a loose decoding of any server frame, for test assertions.
type frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	From        string          `json:"from"`
	MatchID     string          `json:"matchId"`
	PartnerID   string          `json:"partnerId"`
	PartnerName string          `json:"partnerName"`
	Initiator   bool            `json:"initiator"`
	Payload     json.RawMessage `json:"payload"`
	Total       int             `json:"total"`
	Waiting     int             `json:"waiting"`
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	hub := NewHub(0)
	router.GET("/ws", HandleSignaling(hub))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil discards frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	conn.SetReadDeadline(deadline)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q frame: %v", want, err)
		}
		if f.Type == want {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSignalingSession(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv)
	connB := dial(t, srv)

	greetA := readUntil(t, connA, "connected")
	greetB := readUntil(t, connB, "connected")
	if greetA.ID == "" || greetA.ID == greetB.ID {
		t.Fatalf("connection ids missing or colliding: %q %q", greetA.ID, greetB.ID)
	}

	send(t, connA, map[string]any{"type": "register", "name": "Ann"})
	if f := readUntil(t, connA, "registered"); f.Name != "Ann" {
		t.Fatalf("register ack: %+v", f)
	}

	send(t, connA, map[string]string{"type": "find"})
	readUntil(t, connA, "searching")
	send(t, connB, map[string]string{"type": "find"})

	foundA := readUntil(t, connA, "found")
	foundB := readUntil(t, connB, "found")
	if foundA.MatchID == "" || foundA.MatchID != foundB.MatchID {
		t.Fatalf("match ids disagree: %q vs %q", foundA.MatchID, foundB.MatchID)
	}
	if foundA.PartnerID != greetB.ID || foundB.PartnerID != greetA.ID {
		t.Fatalf("partner ids wrong: %+v %+v", foundA, foundB)
	}
	if foundB.PartnerName != "Ann" {
		t.Fatalf("partner name not propagated: %+v", foundB)
	}
	if foundA.Initiator == foundB.Initiator {
		t.Fatalf("both sides initiator=%v", foundA.Initiator)
	}

	// Offer flows only through the live match and arrives verbatim.
	payload := json.RawMessage(`{"sdp":"v=0"}`)
	send(t, connA, map[string]any{
		"type":    "offer",
		"to":      foundA.PartnerID,
		"matchId": foundA.MatchID,
		"payload": payload,
	})
	offer := readUntil(t, connB, "offer")
	if offer.From != greetA.ID || offer.MatchID != foundA.MatchID {
		t.Fatalf("offer envelope: %+v", offer)
	}
	if string(offer.Payload) != string(payload) {
		t.Fatalf("payload mutated: %s", offer.Payload)
	}

	// Skip tears the match down and tells the partner.
	send(t, connA, map[string]any{"type": "skip", "matchId": foundA.MatchID})
	readUntil(t, connB, "partner-skipped")
	readUntil(t, connB, "searching")
}

func TestDisconnectNotifiesPartner(t *testing.T) {
	srv, hub := newTestServer(t)

	connA := dial(t, srv)
	connB := dial(t, srv)
	readUntil(t, connA, "connected")
	readUntil(t, connB, "connected")

	send(t, connA, map[string]string{"type": "find"})
	send(t, connB, map[string]string{"type": "find"})
	readUntil(t, connA, "found")
	readUntil(t, connB, "found")

	connA.Close()
	readUntil(t, connB, "partner-disconnected")
	readUntil(t, connB, "searching")

	// Registry settles back to a single live connection.
	deadline := time.Now().Add(5 * time.Second)
	for {
		total, _, waiting, matches := hub.Engine().Counts()
		if total == 1 && waiting == 1 && matches == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine did not settle: total=%d waiting=%d matches=%d", total, waiting, matches)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOnlineCountBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv)
	readUntil(t, connA, "connected")
	connB := dial(t, srv)
	readUntil(t, connB, "connected")

	// A sees the broadcast triggered by B's arrival.
	deadline := time.Now().Add(5 * time.Second)
	connA.SetReadDeadline(deadline)
	for {
		var f frame
		if err := connA.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for online-count: %v", err)
		}
		if f.Type == "online-count" && f.Total == 2 {
			return
		}
	}
}
