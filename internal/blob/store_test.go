package blob

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidewater.systems/callintake/internal/bulkimport"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "test-secret", "http://localhost:8080/api/files")
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	handle, err := s.Put([]byte("audio"), "Call With Client #4 & 5 100%.mp3")
	require.NoError(t, err)
	require.NotContains(t, handle, " ")
	require.NotContains(t, handle, "#")
	require.NotContains(t, handle, "&")
	require.NotContains(t, handle, "%")

	// A hostile original name must not be able to truncate or mangle the
	// signed URL once the handle is embedded in its path.
	u, err := url.Parse(s.SignedURL(handle, time.Minute))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(u.Path, "/"+handle))

	data, err := s.Get(handle)
	require.NoError(t, err)
	require.Equal(t, []byte("audio"), data)

	p, err := s.Path(handle)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(p, handle))
}

func TestGet_UnknownHandle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	require.ErrorIs(t, err, bulkimport.ErrNotFound)
}

func TestGet_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, handle := range []string{"../secrets", "a/b", `a\b`, ""} {
		_, err := s.Get(handle)
		require.ErrorIs(t, err, bulkimport.ErrNotFound, "handle %q", handle)
	}
}

func TestSignedURL_VerifyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	handle, err := s.Put([]byte("x"), "a.mp3")
	require.NoError(t, err)

	signed := s.SignedURL(handle, time.Minute)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	require.NoError(t, err)
	sig := u.Query().Get("sig")

	require.True(t, s.Verify(handle, exp, sig))
	require.False(t, s.Verify(handle, exp, sig+"00"), "forged signature")
	require.False(t, s.Verify("other-handle", exp, sig), "signature bound to handle")
	require.False(t, s.Verify(handle, time.Now().Add(-time.Minute).Unix(), s.sign(handle, time.Now().Add(-time.Minute).Unix())), "expired")
}
