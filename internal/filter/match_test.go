package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	Name      string
	Transport string
	Tags      []string
	Connected bool
}

func serverMatchers() Matchers[testServer] {
	return Matchers[testServer]{
		"name":      Partial(func(s testServer) string { return s.Name }),
		"transport": Equals(func(s testServer) string { return s.Transport }),
		"tag":       HasAll(func(s testServer) []string { return s.Tags }),
		"any_tag":   HasAny(func(s testServer) []string { return s.Tags }),
		"connected": EqualsBool(func(s testServer) bool { return s.Connected }),
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", NormalizeString("  Hello "))
	assert.Equal(t, "", NormalizeString("  "))
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeSlice([]string{"  A ", "b", " C"}))
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	fs := testServer{Name: "Filesystem", Transport: "stdio", Tags: []string{"Files", "local"}, Connected: true}
	m := serverMatchers()

	tests := []struct {
		key  string
		val  string
		want bool
	}{
		{key: "name", val: "file", want: true},
		{key: "name", val: "github", want: false},
		{key: "transport", val: "STDIO", want: true},
		{key: "transport", val: "sse", want: false},
		{key: "tag", val: "files, local", want: true},
		{key: "tag", val: "files,remote", want: false},
		{key: "any_tag", val: "remote,local", want: true},
		{key: "any_tag", val: "remote", want: false},
		{key: "connected", val: "true", want: true},
		{key: "connected", val: "false", want: false},
		{key: "connected", val: "maybe", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, m[tc.key](fs, tc.val))
		})
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	fs := testServer{Name: "filesystem", Transport: "stdio", Tags: []string{"files"}}

	require.True(t, Match(fs, nil, serverMatchers()))
	require.True(t, Match(fs, map[string]string{"Name": "FILE", "tag": "files"}, serverMatchers()))
	require.False(t, Match(fs, map[string]string{"name": "file", "transport": "sse"}, serverMatchers()))

	// Unknown keys, empty keys and empty values are ignored.
	require.True(t, Match(fs, map[string]string{"owner": "me", " ": "x", "transport": " "}, serverMatchers()))
}

func TestFilter(t *testing.T) {
	t.Parallel()

	servers := []testServer{
		{Name: "filesystem", Tags: []string{"files", "local"}, Connected: true},
		{Name: "github", Tags: []string{"remote"}, Connected: true},
		{Name: "drive", Tags: []string{"files", "remote"}},
	}

	got := Filter(servers, map[string]string{"tag": "files"}, serverMatchers())
	require.Equal(t, []testServer{servers[0], servers[2]}, got)

	got = Filter(servers, map[string]string{"tag": "remote", "connected": "true"}, serverMatchers())
	require.Equal(t, []testServer{servers[1]}, got)

	require.Empty(t, Filter(servers, map[string]string{"name": "slack"}, serverMatchers()))
}
