package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "10",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestCheckToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", signedToken(t, time.Now().Add(time.Hour)), nil},
		{"expired", signedToken(t, time.Now().Add(-time.Hour)), ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("http://unused", tt.token, nil)
			err := c.CheckToken()
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckTokenMalformed(t *testing.T) {
	c := NewClient("http://unused", "not-a-jwt", nil)
	require.Error(t, c.CheckToken())
}

func TestBearerHeaderSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]Conversation{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	_, err := c.ListConversations(t.Context())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", got)
}

func TestUnauthorizedMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "stale", nil)
	_, err := c.ListConversations(t.Context())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestListMessagesQuery(t *testing.T) {
	var path, before, limit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		before = r.URL.Query().Get("before")
		limit = r.URL.Query().Get("limit")
		w.Write([]byte(`[{"id":5,"conversation_id":7,"sender_id":20,"content":"hi","message_type":"text","sent_at":1700000000000}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	cutoff := time.UnixMilli(1700000100000)
	msgs, err := c.ListMessages(t.Context(), 7, cutoff, 50)
	require.NoError(t, err)

	require.Equal(t, "/api/conversations/7/messages", path)
	require.Equal(t, "1700000100000", before)
	require.Equal(t, "50", limit)
	require.Len(t, msgs, 1)
	require.Equal(t, int64(5), msgs[0].ID)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), msgs[0].SentAt.Time().UTC())
}

func TestSendMessageReturnsAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "local-1", body["client_msg_id"])
		w.Write([]byte(`{"conversation_id":7,"client_msg_id":"local-1","id":900,"sent_at":1700000000000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	ack, err := c.SendMessage(t.Context(), 7, "hello", "local-1")
	require.NoError(t, err)
	require.Equal(t, int64(900), ack.ID)
	require.Equal(t, "local-1", ack.ClientMsgID)
}

func TestSearchPlayers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/players/search", r.URL.Path)
		require.Equal(t, "an", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"id":20,"username":"ana","display_name":"Ana","is_online":true}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	players, err := c.SearchPlayers(t.Context(), "an")
	require.NoError(t, err)
	require.Len(t, players, 1)
	require.Equal(t, "ana", players[0].Username)
}

func TestUpdateOnlineStatus(t *testing.T) {
	var method string
	var body map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	require.NoError(t, c.UpdateOnlineStatus(t.Context(), true))
	require.Equal(t, http.MethodPut, method)
	require.True(t, body["is_online"])
}

func TestUserIDFromSubject(t *testing.T) {
	c := NewClient("http://unused", signedToken(t, time.Now().Add(time.Hour)), nil)
	id, err := c.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(10), id)
}
