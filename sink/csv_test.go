package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVProjection(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewCSVWriter(buf, CSVOptions{Fields: []string{"function", "calls", "missing"}})

	r := NewRecord(3)
	r.Set("calls", Int(12))
	r.Set("function", String("work"))
	r.Set("ignored", Int(99))
	require.NoError(t, s.Write(r))
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "function,calls,missing", lines[0])
	assert.Equal(t, `"work",12,`, lines[1])
}

func TestCSVSeparatorAndQuote(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewCSVWriter(buf, CSVOptions{
		Fields:    []string{"a", "b"},
		Separator: "|",
		Quote:     "'",
	})

	r := NewRecord(2)
	r.Set("a", String("it's"))
	r.Set("b", Bool(false))
	require.NoError(t, s.Write(r))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "a|b", lines[0])
	assert.Equal(t, "'it''s'|false", lines[1])
}

func TestCSVHeaderWrittenOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewCSVWriter(buf, CSVOptions{Fields: []string{"n"}})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(numberedRecord(i)))
	}
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))
	assert.True(t, strings.HasPrefix(buf.String(), "n\n"))
}

func TestCSVRequiresProjection(t *testing.T) {
	_, err := NewCSV(CSVOptions{Path: TokenTemp})
	assert.Error(t, err)
}
