package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" round_settled ", ""}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventRoundSettled, "Round settled", "round 3 up"))
	require.NoError(t, n.Notify(context.Background(), EventError, "boom", "x"))
	assert.Equal(t, []string{"Round settled|round 3 up"}, s.calls)
}

func TestNotifyEmptyFilterPassesAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.calls, 1)
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	failing := &recordingSender{name: "bad", err: errors.New("down")}
	ok := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{failing, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), EventError, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.calls, 1)
}

func TestNewWithoutChannels(t *testing.T) {
	assert.Nil(t, New(Options{TelegramToken: "only-token"}, discardLogger()))
	assert.NotNil(t, New(Options{DiscordWebhookURL: "http://hook"}, discardLogger()))
}

func TestTelegramSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		assert.Equal(t, "*Round settled*\nround 3 up", body["text"])
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Round settled", "round 3 up"))
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["content"] != "**t**\nm" {
			http.Error(w, "bad content", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"))

	err := NewDiscordSender(srv.URL).Send(context.Background(), "other", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
