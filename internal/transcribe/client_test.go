package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidewater.systems/callintake/internal/bulkimport"
)

func TestTranscribe_PublishPollDownload(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "https://files.example/a.mp3", r.FormValue("callRecordingLink"))
		require.Equal(t, "openai", r.FormValue("provider"))
		require.Equal(t, "true", r.FormValue("diarization"))
		fmt.Fprint(w, `{"media_id": "m-1", "status": "queued"}`)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "m-1", r.URL.Query().Get("media_id"))
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"status": "processing"}`)
			return
		}
		fmt.Fprintf(w, `{"status": "success", "transcript_url": "%s/text/m-1"}`, srv.URL)
	})
	mux.HandleFunc("GET /text/m-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Hello, thanks for calling.\n")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	text, err := c.Transcribe(ctx, "https://files.example/a.mp3", true, "openai")
	require.NoError(t, err)
	require.Equal(t, "Hello, thanks for calling.", text)
	require.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestTranscribe_ExistingTranscriptShortCircuits(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"media_id": "m-2", "status": "success", "transcript_url": "%s/text/m-2"}`, srv.URL)
	})
	mux.HandleFunc("GET /text/m-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "cached transcript")
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		t.Error("status should not be polled when transcript already exists")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	text, err := NewClient(srv.URL).Transcribe(context.Background(), "u", false, "openai")
	require.NoError(t, err)
	require.Equal(t, "cached transcript", text)
}

func TestTranscribe_FailedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"media_id": "m-3", "status": "queued"}`)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "failed", "reason": "audio too short"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(srv.URL).Transcribe(context.Background(), "u", false, "openai")
	require.ErrorIs(t, err, bulkimport.ErrProvider)
	require.Contains(t, err.Error(), "audio too short")
}

func TestTranscribe_PublishRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Transcribe(context.Background(), "u", false, "openai")
	require.ErrorIs(t, err, bulkimport.ErrProvider)
}

func TestTranscribe_Unconfigured(t *testing.T) {
	_, err := NewClient("").Transcribe(context.Background(), "u", false, "openai")
	require.ErrorIs(t, err, bulkimport.ErrProvider)
}
