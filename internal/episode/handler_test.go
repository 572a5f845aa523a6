package episode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respira-triage/internal/nlu"
	"respira-triage/internal/triage"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	router := chi.NewRouter()
	NewHandler(f.svc, nil).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return f, srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWebhook_TextMessage(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{FeverStatus: boolPtr(true)}, "Noted.")

	resp := postJSON(t, srv.URL+"/webhook/telegram", `{
		"update_id": 1,
		"message": {
			"chat": {"id": 42},
			"from": {"first_name": "Sari"},
			"text": "I have had a fever"
		}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, string(triage.StatusInProgress), body["status"])
	replies, ok := body["replies"].([]any)
	require.True(t, ok)
	assert.Equal(t, triage.WelcomeMessage, replies[0])
}

func TestWebhook_ContactSharesPhone(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{}, "Thanks, noted your number.")

	resp := postJSON(t, srv.URL+"/webhook/telegram", `{
		"message": {
			"chat": {"id": 42},
			"contact": {"phone_number": "0812 3456 7890"},
			"text": "hi"
		}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	user, err := f.users.GetByChatID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "+6281234567890", user.Phone)
}

func TestWebhook_PhotoPicksLargestSize(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{}, "Noted.")

	// Seed the episode with a text turn first.
	postJSON(t, srv.URL+"/webhook/telegram", `{"message": {"chat": {"id": 42}, "text": "hello"}}`)

	resp := postJSON(t, srv.URL+"/webhook/telegram", `{
		"message": {
			"chat": {"id": 42},
			"photo": [
				{"file_id": "small", "file_size": 1000},
				{"file_id": "large", "file_size": 90000}
			]
		}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, f.images.records, 1)
	var imageMsg *ChatMessage
	for i := range f.messages.messages {
		if f.messages.messages[i].Kind == KindImage {
			imageMsg = &f.messages.messages[i]
		}
	}
	require.NotNil(t, imageMsg)
	assert.Equal(t, "large", imageMsg.Body)
}

func TestWebhook_NonMessageUpdateIgnored(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/webhook/telegram", `{"update_id": 7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", decodeBody(t, resp)["status"])
}

func TestWebhook_ExtractionOutageReturns503(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.err = nlu.ErrProviderUnavailable

	resp := postJSON(t, srv.URL+"/webhook/telegram", `{"message": {"chat": {"id": 42}, "text": "hi"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetEpisode_InvalidID(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/episodes/not-a-uuid/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetEndpoint(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{FeverStatus: boolPtr(true)}, "Noted.")

	outcome, err := f.svc.ProcessIncomingMessage(context.Background(), Inbound{ChatID: 42, Text: "fever"})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/episodes/"+outcome.Episode.ID.String()+"/reset", `{"actorType": "DOCTOR", "actorId": "dr-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	cleared, ok := body["cleared"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), cleared["symptoms"])

	stored, _ := f.episodes.GetByID(context.Background(), outcome.Episode.ID)
	require.NotNil(t, stored.Metadata.LastStatusTransition)
	assert.Equal(t, triage.ActorDoctor, stored.Metadata.LastStatusTransition.Actor.Type)
}

func TestSeverityEndpoint_EmptyEpisode(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{}, "Hello.")

	outcome, err := f.svc.ProcessIncomingMessage(context.Background(), Inbound{ChatID: 42, Text: "hello"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/episodes/" + outcome.Episode.ID.String() + "/severity")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// No collected signals yet: score and class stay null rather than erroring.
	body := decodeBody(t, resp)
	assert.Nil(t, body["severityScore"])
	assert.Nil(t, body["severityClass"])
}

func TestUploadImageEndpoint(t *testing.T) {
	f, srv := newTestServer(t)
	f.extract.analysis = analysisWith(triage.SymptomFields{}, "Noted.")

	outcome, err := f.svc.ProcessIncomingMessage(context.Background(), Inbound{ChatID: 42, Text: "hello"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/episodes/"+outcome.Episode.ID.String()+"/images",
		"image/jpeg", bytes.NewReader([]byte{0xff, 0xd8, 0xff}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/episodes/"+outcome.Episode.ID.String()+"/images",
		"image/jpeg", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
