package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/templates"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/events"
)

const testToken = "s3cret"

type staticStatus map[string]interface{}

func (s staticStatus) Status(context.Context) map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	mb := bus.NewMessageBus(8)
	t.Cleanup(mb.Close)
	s := NewServer(Config{Addr: ":0", Token: testToken}, Deps{
		Status:    staticStatus{"live_tasks": 0, "store": "ok"},
		Bus:       mb,
		Templates: templates.NewRegistry(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, mb, ts
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := get(t, ts.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRequiresToken(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := get(t, ts.URL+"/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, ts.URL+"/api/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, ts.URL+"/api/status", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["store"])
	assert.Contains(t, body, "uptime_human")
}

func TestAPIKeyHeader(t *testing.T) {
	_, _, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/templates", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Count     int            `json:"count"`
		Templates []templateView `json:"templates"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "attributed", body.Templates[0].Name)
}

func postWebhook(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookQueuesInboundEvent(t *testing.T) {
	_, mb, ts := newTestServer(t)

	resp := postWebhook(t, ts.URL+"/api/webhook/tradingview",
		`{"chat_id": -1001, "message_id": 7, "sender_id": 42, "content": "#signal ETH short", "reply_to": 5}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelWebhook, ev.Channel)
	assert.Equal(t, int64(-1001), ev.ChatID)
	assert.Equal(t, int64(7), ev.MessageID)
	require.NotNil(t, ev.SenderID)
	assert.Equal(t, int64(42), *ev.SenderID)
	require.NotNil(t, ev.ReplyTo)
	assert.Equal(t, int64(5), *ev.ReplyTo)
	assert.Equal(t, "tradingview", ev.Metadata.Get("source"))
}

func TestWebhookRejectsBadPayloads(t *testing.T) {
	_, _, ts := newTestServer(t)

	for name, body := range map[string]string{
		"not json":        `{`,
		"missing chat":    `{"message_id": 1, "content": "x"}`,
		"missing message": `{"chat_id": 1, "content": "x"}`,
		"blank content":   `{"chat_id": 1, "message_id": 1, "content": "  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := postWebhook(t, ts.URL+"/api/webhook/x", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestWebhookOnClosedBus(t *testing.T) {
	_, mb, ts := newTestServer(t)
	mb.Close()

	resp := postWebhook(t, ts.URL+"/api/webhook/x", `{"chat_id": 1, "message_id": 1, "content": "x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketReceivesBusEvents(t *testing.T) {
	s, mb, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.wsHub.Run(ctx)
	s.bridge.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "initial_state", first.Type)

	require.Eventually(t, func() bool { return s.wsHub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	mb.PublishOutbound(bus.OutboundMessage{
		Channel:   domain.ChannelSlack,
		ChatID:    "C1",
		MessageID: "1.0",
		Content:   "BTC long",
	})

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.MessageOutbound, ev.Type)
	assert.Equal(t, "slack", ev.Source)
}

func TestWebSocketRequiresToken(t *testing.T) {
	_, _, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGeneratedToken(t *testing.T) {
	s := NewServer(Config{Addr: ":0"}, Deps{})
	assert.Len(t, s.cfg.Token, 48)
}

func TestWebSocketChecksOrigin(t *testing.T) {
	s, _, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.wsHub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?token=" + testToken

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketHonoursConfiguredOrigins(t *testing.T) {
	s := NewServer(Config{Token: testToken, CORSOrigins: []string{"https://*.example.com"}}, Deps{})

	for origin, want := range map[string]bool{
		"":                         true,
		"https://dash.example.com": true,
		"https://DASH.example.com": true,
		"http://localhost:3000":    false,
		"https://example.com.evil": false,
		"http://dash.example.com":  false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, s.wsHub.checkOrigin(r), origin)
	}
}
