package bulkimport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "https://Example.com/Files/A.MP3", "https://example.com/files/a.mp3"},
		{"strips query", "https://example.com/a.mp3?token=abc", "https://example.com/a.mp3"},
		{"strips fragment", "https://example.com/a.mp3#t=10", "https://example.com/a.mp3"},
		{"strips trailing slash", "https://example.com/folder/", "https://example.com/folder"},
		{"empty", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestDeduplicate_ByFileID(t *testing.T) {
	entries := []DiscoveredEntry{
		{Name: "call1.mp3", FileID: "f1", URL: "https://drive.example/a"},
		{Name: "call1-copy.mp3", FileID: "f1", URL: "https://drive.example/b"},
		{Name: "call2.mp3", FileID: "f2", URL: "https://drive.example/c"},
		{Name: "call3.mp3", URL: "https://drive.example/d"},
	}

	res := Deduplicate(entries)
	require.Equal(t, 4, res.Discovered)
	require.Len(t, res.Unique, 3)
	require.Len(t, res.Duplicates, 1)
	require.Equal(t, 2, res.Duplicates[0].Count)

	// First entry of a group wins.
	require.Equal(t, "call1.mp3", res.Unique[0].Name)
}

func TestDeduplicate_ByNormalizedURL(t *testing.T) {
	entries := []DiscoveredEntry{
		{Name: "a.mp3", URL: "https://example.com/recordings/a.mp3"},
		{Name: "a.mp3", URL: "https://EXAMPLE.com/recordings/a.mp3?session=2"},
		{Name: "b.mp3", URL: "https://example.com/recordings/b.mp3"},
	}

	res := Deduplicate(entries)
	require.Len(t, res.Unique, 2)
	require.Len(t, res.Duplicates, 1)
	require.Equal(t, "https://example.com/recordings/a.mp3", res.Duplicates[0].URL)
}

func TestDeduplicate_NoIdentityNeverMerges(t *testing.T) {
	entries := []DiscoveredEntry{
		{Name: "mystery.mp3"},
		{Name: "mystery.mp3"},
	}

	res := Deduplicate(entries)
	require.Len(t, res.Unique, 2)
	require.Empty(t, res.Duplicates)
}

// discovered - unique must equal the sum of (group size - 1) over all
// duplicate groups.
func TestDeduplicate_CountInvariant(t *testing.T) {
	entries := []DiscoveredEntry{
		{FileID: "x", Name: "x1"},
		{FileID: "x", Name: "x2"},
		{FileID: "x", Name: "x3"},
		{URL: "https://h/a"},
		{URL: "https://h/a/"},
		{URL: "https://h/b"},
		{Name: "orphan"},
	}

	res := Deduplicate(entries)
	overcount := 0
	for _, d := range res.Duplicates {
		overcount += d.Count - 1
	}
	require.Equal(t, res.Discovered-len(res.Unique), overcount)
	require.Len(t, res.Unique, 4)
}
