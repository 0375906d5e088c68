package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vatadvisor/usage/internal/config"
)

func newTestResponder(url string) *GeminiResponder {
	return NewGeminiResponder(config.GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-1.5-flash",
		BaseURL: url + "/",
		Timeout: 5 * time.Second,
	})
}

func TestGeminiResponder_Reply(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Да, "},{"text":"трябва. "}]}}]}`))
	}))
	defer srv.Close()

	reply, err := newTestResponder(srv.URL).Reply(context.Background(), "Трябва ли да се регистрирам по ДДС?")
	require.NoError(t, err)
	assert.Equal(t, "Да, трябва.", reply)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "Трябва ли да се регистрирам по ДДС?", got.Contents[0].Parts[0].Text)
	assert.Contains(t, got.SystemInstruction.Parts[0].Text, "ЗДДС")
}

func TestGeminiResponder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted"}}`))
	}))
	defer srv.Close()

	_, err := newTestResponder(srv.URL).Reply(context.Background(), "q")
	assert.ErrorContains(t, err, "quota exhausted")
}

func TestGeminiResponder_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newTestResponder(srv.URL).Reply(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestGeminiResponder_MissingKey(t *testing.T) {
	r := NewGeminiResponder(config.GeminiConfig{Model: "m", BaseURL: "http://127.0.0.1:1"})
	_, err := r.Reply(context.Background(), "q")
	assert.ErrorContains(t, err, "not configured")
}
