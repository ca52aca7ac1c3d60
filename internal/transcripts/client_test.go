package transcripts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.TranscriptsConfig{BaseURL: srv.URL + "/", APIKey: "key"})
	require.NoError(t, err)
	return client
}

func TestMetadataAndTranscript(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/videos/abc":
			_, _ = w.Write([]byte(`{"title":"Intro","duration_seconds":125}`))
		case "/videos/abc/transcript":
			_, _ = w.Write([]byte(`{"language":"en","lines":[{"start":0,"end":2,"text":" hello "},{"start":2,"end":4,"text":"world"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	meta, err := client.Metadata(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, Metadata{VideoID: "abc", Title: "Intro", DurationSeconds: 125}, meta)

	transcript, err := client.Transcript(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", transcript.VideoID)
	assert.Equal(t, "hello\nworld", transcript.Text())
}

func TestErrorsCarryStatusForClassification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos/missing":
			http.NotFound(w, r)
		case "/videos/busy/transcript":
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/videos/silent/transcript":
			_, _ = w.Write([]byte(`{"lines":[]}`))
		}
	})

	_, err := client.Metadata(context.Background(), "missing")
	assert.Equal(t, resilience.ClassValidation, resilience.DefaultClassifier(err))

	_, err = client.Transcript(context.Background(), "busy")
	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, resilience.ClassServerError, resilience.DefaultClassifier(err))
	assert.Equal(t, "5s", statusErr.RetryAfter.String())

	_, err = client.Transcript(context.Background(), "silent")
	assert.Equal(t, resilience.ClassValidation, resilience.DefaultClassifier(err))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.TranscriptsConfig{})
	assert.ErrorIs(t, err, errBaseURLRequired)
}
