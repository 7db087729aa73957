package audioconv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatFromName(t *testing.T) {
	require.Equal(t, "mp3", FormatFromName("Call One.MP3"))
	require.Equal(t, "m4a", FormatFromName("path/to/rec.m4a"))
	require.Equal(t, "", FormatFromName("noext"))
}

func TestNeedsConversion(t *testing.T) {
	cases := []struct {
		format  string
		want    bool
		wantErr bool
	}{
		{"mp3", false, false},
		{"wav", false, false},
		{"m4a", true, false},
		{"flac", true, false},
		{"wma", true, false},
		{"mov", false, true},
		{"", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			got, err := NeedsConversion(tc.format)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrUnsupported)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestConvertArgs(t *testing.T) {
	args := convertArgs("/tmp/in.m4a", "/tmp/out.mp3")
	require.Equal(t, []string{"-y", "-i", "/tmp/in.m4a", "-vn", "-acodec", "libmp3lame", "-q:a", "2", "/tmp/out.mp3"}, args)
}

func TestConvert_RejectsUnsupportedWithoutExec(t *testing.T) {
	_, err := New().Convert(context.Background(), []byte("x"), "mov")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestConvert_WrapsExecError(t *testing.T) {
	c := New()
	c.Path = "/nonexistent/ffmpeg"
	_, err := c.Convert(context.Background(), []byte("x"), "m4a")
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
}
