package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// tablePrinter lays out upstream rows as tab separated columns and records what it was asked to print.
// Rows named in failOn fail after being written.
type tablePrinter struct {
	header  WriteFunc[upstream]
	footer  WriteFunc[upstream]
	printed []string
	failOn  string
}

func (p *tablePrinter) Header(w io.Writer, count int) {
	if p.header != nil {
		p.header(w, count)
	}
}

func (p *tablePrinter) SetHeader(fn WriteFunc[upstream]) { p.header = fn }

func (p *tablePrinter) Footer(w io.Writer, count int) {
	if p.footer != nil {
		p.footer(w, count)
	}
}

func (p *tablePrinter) SetFooter(fn WriteFunc[upstream]) { p.footer = fn }

func (p *tablePrinter) Item(w io.Writer, u upstream) error {
	p.printed = append(p.printed, u.Name)

	state := "down"
	if u.Healthy {
		state = "up"
	}
	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", u.Name, u.Transport, state); err != nil {
		return err
	}

	if u.Name == p.failOn {
		return fmt.Errorf("rendering %s: column overflow", u.Name)
	}
	return nil
}

func newTablePrinter() *tablePrinter {
	p := &tablePrinter{}
	p.SetHeader(func(w io.Writer, _ int) {
		_, _ = io.WriteString(w, "NAME\tTRANSPORT\tSTATE\n")
	})
	p.SetFooter(func(w io.Writer, count int) {
		_, _ = fmt.Fprintf(w, "%d server(s)\n", count)
	})
	return p
}

func TestTextHandler_HandleResults(t *testing.T) {
	t.Parallel()

	rows := []upstream{
		{Name: "filesystem", Transport: "stdio", Healthy: true},
		{Name: "search", Transport: "sse"},
		{Name: "git", Transport: "stdio", Healthy: true},
	}

	tests := []struct {
		name        string
		rows        []upstream
		failOn      string
		wantOut     string
		wantPrinted []string
		wantErr     string
	}{
		{
			name:    "no rows skips header and footer",
			wantOut: "No items found\n",
		},
		{
			name: "all rows",
			rows: rows,
			wantOut: "NAME\tTRANSPORT\tSTATE\n" +
				"filesystem\tstdio\tup\n" +
				"search\tsse\tdown\n" +
				"git\tstdio\tup\n" +
				"3 server(s)\n",
			wantPrinted: []string{"filesystem", "search", "git"},
		},
		{
			name:   "failing row stops output before the footer",
			rows:   rows,
			failOn: "search",
			wantOut: "NAME\tTRANSPORT\tSTATE\n" +
				"filesystem\tstdio\tup\n" +
				"search\tsse\tdown\n",
			wantPrinted: []string{"filesystem", "search"},
			wantErr:     "rendering search: column overflow",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			p := newTablePrinter()
			p.failOn = tc.failOn
			h := NewTextHandler[upstream](&buf, p)
			require.Same(t, &buf, h.Writer())

			err := h.HandleResults(tc.rows...)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.wantOut, buf.String())
			require.Equal(t, tc.wantPrinted, p.printed)
		})
	}
}

func TestTextHandler_HandleResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewTextHandler[upstream](&buf, newTablePrinter())

	require.NoError(t, h.HandleResult(upstream{Name: "git", Transport: "stdio"}))
	require.Equal(t, "NAME\tTRANSPORT\tSTATE\ngit\tstdio\tdown\n1 server(s)\n", buf.String())
}

func TestTextHandler_HandleError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewTextHandler[upstream](&buf, newTablePrinter())

	want := errors.New("daemon unreachable")
	require.ErrorIs(t, h.HandleError(want), want)
	require.Empty(t, buf.String(), "errors are left to the command to report")
}
