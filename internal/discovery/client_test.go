package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"tidewater.systems/callintake/internal/bulkimport"
)

func TestList_JSONListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"name": "call1.mp3", "id": "f1", "url": "` + "http://" + r.Host + `/dl/call1.mp3"},
			{"name": "call2.mp3", "file_id": "f2"},
			{"name": "call_log.csv", "url": "http://` + r.Host + `/dl/call_log.csv"}
		]`))
	}))
	defer srv.Close()

	entries, err := NewClient().List(context.Background(), srv.URL+"/folder")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "f1", entries[0].FileID)
	// Id-only entries get a synthesized download URL under the source.
	require.Equal(t, srv.URL+"/files/f2", entries[1].URL)
}

func TestList_WrappedJSONListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files": [{"name": "a.wav", "download_url": "http://` + r.Host + `/a.wav"}]}`))
	}))
	defer srv.Close()

	entries, err := NewClient().List(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.wav", entries[0].Name)
}

func TestList_HTMLListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<a href="recordings/call%20one.mp3">call one</a>
			<a href="readme.html">readme</a>
			<a href="/abs/call2.WAV">call two</a>
		</body></html>`))
	}))
	defer srv.Close()

	entries, err := NewClient().List(context.Background(), srv.URL+"/folder/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "call one.mp3", entries[0].Name)
	require.Equal(t, srv.URL+"/abs/call2.WAV", entries[1].URL)
}

func TestList_EmptySourceIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	entries, err := NewClient().List(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestList_AccessRestrictedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient().List(context.Background(), srv.URL)
	require.ErrorIs(t, err, bulkimport.ErrSourceUnavailable)
}

func TestList_UnreachableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed before use

	_, err := NewClient().List(context.Background(), srv.URL)
	require.ErrorIs(t, err, bulkimport.ErrSourceUnavailable)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dl/a.mp3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	data, err := NewClient().Fetch(context.Background(), bulkimport.DiscoveredEntry{URL: srv.URL + "/dl/a.mp3"})
	require.NoError(t, err)
	require.Equal(t, []byte("audio-bytes"), data)

	_, err = NewClient().Fetch(context.Background(), bulkimport.DiscoveredEntry{URL: srv.URL + "/missing"})
	require.ErrorIs(t, err, bulkimport.ErrSourceUnavailable)

	_, err = NewClient().Fetch(context.Background(), bulkimport.DiscoveredEntry{Name: "no-url.mp3"})
	require.ErrorIs(t, err, bulkimport.ErrSourceUnavailable)
}

func TestIsCallLogEntry(t *testing.T) {
	require.True(t, IsCallLogEntry("call_log.csv"))
	require.True(t, IsCallLogEntry("Call-Log.xlsx"))
	require.False(t, IsCallLogEntry("call_log.mp3"))
	require.False(t, IsCallLogEntry("recording.csv"))
}

func TestParseCallLog_CSV(t *testing.T) {
	data := []byte("file_name,agent,campaign\ncall1.mp3,Dana,Spring\ncall2.mp3,Lee,\n")
	m, err := ParseCallLog("call_log.csv", data)
	require.NoError(t, err)
	require.Equal(t, "Dana / Spring", m["call1.mp3"])
	require.Equal(t, "Lee", m["call2.mp3"])
	require.NotContains(t, m, "file_name")
}
