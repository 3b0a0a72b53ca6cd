package chatapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MaxSkr0210/agiens-chat-hackaton/internal/audio"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

func TestClientSendTextCarriesTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chats/c1/send", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, sonic.Unmarshal(raw, &body))
		require.Equal(t, "Hello", body["message"])
		require.Equal(t, "openrouter/auto", body["modelId"])
		require.Equal(t, true, body["withVoice"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"Hi there","audioBase64":"QUJD"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", staticTokens("tok-1"), zerolog.Nop())
	resp, err := c.SendText(context.Background(), "c1", SendTextRequest{Message: "Hello", ModelID: "openrouter/auto", WithVoice: true})
	require.NoError(t, err)
	require.Equal(t, "Hi there", resp.Content)
	require.Equal(t, "QUJD", resp.AudioBase64)
}

func TestClientOmitsAuthorizationWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.Equal(t, "1", r.URL.Query().Get("for_me"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","title":"t","model":"m","lastMessagePreview":"p","lastMessageAt":"2025-03-01T10:00:00.123456"}]`))
	}))
	defer srv.Close()

	chats, err := NewClient(srv.URL, staticTokens(""), zerolog.Nop()).ListChats(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, 2025, chats[0].LastMessageAt.Year())
	require.Equal(t, 123456000, chats[0].LastMessageAt.Nanosecond())
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Chat not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, zerolog.Nop()).GetChat(context.Background(), "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
	require.Contains(t, se.Body, "Chat not found")
	require.False(t, se.Retryable())
}

func TestStatusErrorRedactsEchoedCredentials(t *testing.T) {
	err := &StatusError{Code: http.StatusBadGateway, Body: "upstream rejected Authorization: Bearer abc.def-123"}
	require.NotContains(t, err.Error(), "abc.def-123")
	require.Contains(t, err.Error(), "status 502")
}

func TestClientSendTextAbortsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClient(srv.URL, nil, zerolog.Nop()).SendText(ctx, "c1", SendTextRequest{Message: "x"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancel")
	}
}

func TestClientSendVoiceMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats/c1/send-voice", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "audio.webm", header.Filename)
		require.Equal(t, []byte("opus-bytes"), data)
		require.Equal(t, "m1", r.FormValue("modelId"))
		require.Equal(t, "false", r.FormValue("withVoice"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"ok","audioBase64":"QUJD"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, nil, zerolog.Nop()).SendVoice(context.Background(), "c1", VoiceUpload{
		Clip:    audio.Clip{Data: []byte("opus-bytes"), MimeType: "audio/webm;codecs=opus"},
		ModelID: "m1",
	})
	require.NoError(t, err)
	require.Equal(t, "QUJD", resp.AudioBase64)
}

func TestClientSetModelAcceptsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats/c1/model", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, nil, zerolog.Nop()).SetModel(context.Background(), "c1", "openrouter/free"))
}
