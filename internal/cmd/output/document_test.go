package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// upstream is a cut down server listing row.
type upstream struct {
	Name      string `json:"name" yaml:"name"`
	Transport string `json:"transport" yaml:"transport"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
}

func TestNewDocumentHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	h, err := NewDocumentHandler[upstream](&buf, EncodingYAML, 2)
	require.NoError(t, err)
	require.Same(t, &buf, h.Writer())
	require.Equal(t, EncodingYAML, h.Encoding())

	_, err = NewDocumentHandler[upstream](&buf, Encoding("toml"), 2)
	require.EqualError(t, err, "unsupported document encoding 'toml'")

	_, err = NewDocumentHandler[upstream](&buf, EncodingJSON, -1)
	require.Error(t, err)
}

func TestDocumentHandler_HandleResults(t *testing.T) {
	t.Parallel()

	rows := []upstream{
		{Name: "filesystem", Transport: "stdio", Healthy: true},
		{Name: "search", Transport: "sse"},
	}

	tests := []struct {
		name     string
		encoding Encoding
		indent   int
		rows     []upstream
		want     string
	}{
		{
			name:     "json indented",
			encoding: EncodingJSON,
			indent:   2,
			rows:     rows,
			want: `{
  "results": [
    {
      "name": "filesystem",
      "transport": "stdio",
      "healthy": true
    },
    {
      "name": "search",
      "transport": "sse",
      "healthy": false
    }
  ]
}
`,
		},
		{
			name:     "json compact",
			encoding: EncodingJSON,
			rows:     rows[:1],
			want:     `{"results":[{"name":"filesystem","transport":"stdio","healthy":true}]}` + "\n",
		},
		{
			name:     "json no rows",
			encoding: EncodingJSON,
			want:     `{"results":null}` + "\n",
		},
		{
			name:     "yaml",
			encoding: EncodingYAML,
			indent:   2,
			rows:     rows,
			want: "results:\n" +
				"  - name: filesystem\n" +
				"    transport: stdio\n" +
				"    healthy: true\n" +
				"  - name: search\n" +
				"    transport: sse\n" +
				"    healthy: false\n",
		},
		{
			name:     "yaml no rows",
			encoding: EncodingYAML,
			indent:   2,
			want:     "results: []\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			h, err := NewDocumentHandler[upstream](&buf, tc.encoding, tc.indent)
			require.NoError(t, err)

			require.NoError(t, h.HandleResults(tc.rows...))
			require.Equal(t, tc.want, buf.String())
		})
	}
}

func TestDocumentHandler_HandleResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, err := NewDocumentHandler[upstream](&buf, EncodingYAML, 4)
	require.NoError(t, err)

	require.NoError(t, h.HandleResult(upstream{Name: "git", Transport: "stdio", Healthy: true}))
	require.Equal(t, "result:\n    name: git\n    transport: stdio\n    healthy: true\n", buf.String())
}

func TestDocumentHandler_HandleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		encoding Encoding
		err      error
		want     string
	}{
		{
			name:     "json",
			encoding: EncodingJSON,
			err:      errors.New("server 'git' not found"),
			want:     "{\n  \"error\": \"server 'git' not found\"\n}\n",
		},
		{
			name:     "yaml",
			encoding: EncodingYAML,
			err:      errors.New("daemon unreachable"),
			want:     "error: daemon unreachable\n",
		},
		{
			name:     "yaml empty message is quoted",
			encoding: EncodingYAML,
			err:      errors.New(""),
			want:     "error: \"\"\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			h, err := NewDocumentHandler[upstream](&buf, tc.encoding, 2)
			require.NoError(t, err)

			require.NoError(t, h.HandleError(tc.err))
			require.Equal(t, tc.want, buf.String())
		})
	}
}
