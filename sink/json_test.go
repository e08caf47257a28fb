package sink

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	ts := time.Date(2024, 6, 1, 12, 30, 45, 987654321, time.UTC)
	r := NewRecord(5)
	r.Set("event", String("test"))
	r.Set("count", Int(42))
	r.Set("ratio", Real(0.5))
	r.Set("ok", Bool(true))
	r.Set("when", Timestamp(ts))
	return r
}

func TestJSONLineShape(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewJSONWriter(buf)
	require.NoError(t, s.Write(sampleRecord()))
	require.NoError(t, s.Close())

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "}\n"))
	assert.Equal(t,
		`{"event":"test","count":42,"ratio":0.5,"ok":true,"when":"2024-06-01T12:30:45.987654321+0000"}`+"\n",
		line)
}

// serialize → parse must yield the same key/value structure in
// insertion order.
func TestJSONRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewJSONWriter(buf)
	require.NoError(t, s.Write(sampleRecord()))

	dec := json.NewDecoder(strings.NewReader(buf.String()))
	dec.UseNumber()

	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)

	keys := []string{}
	values := map[string]interface{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		require.NoError(t, err)
		key := keyTok.(string)
		keys = append(keys, key)

		valTok, err := dec.Token()
		require.NoError(t, err)
		values[key] = valTok
	}

	assert.Equal(t, []string{"event", "count", "ratio", "ok", "when"}, keys)
	assert.Equal(t, "test", values["event"])
	assert.Equal(t, json.Number("42"), values["count"])
	assert.Equal(t, json.Number("0.5"), values["ratio"])
	assert.Equal(t, true, values["ok"])

	parsed, err := time.Parse("2006-01-02T15:04:05.000000000-0700", values["when"].(string))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 6, 1, 12, 30, 45, 987654321, time.UTC)))
}

func TestJSONEscaping(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewJSONWriter(buf)

	r := NewRecord(2)
	r.Set("message", String("a \"quoted\"\nline\twith\\escapes"))
	r.Set("path", String(`C:\temp`))
	require.NoError(t, s.Write(r))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, "a \"quoted\"\nline\twith\\escapes", decoded["message"])
	assert.Equal(t, `C:\temp`, decoded["path"])
}

func TestJSONNonFiniteReals(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewJSONWriter(buf)

	r := NewRecord(1)
	r.Set("cpi", Real(nan()))
	require.NoError(t, s.Write(r))
	assert.Equal(t, `{"cpi":null}`+"\n", buf.String())
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestJSONFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewJSONWriter(buf)
	s.SetFilter(func(r *Record) bool {
		v, ok := r.Get("keep")
		return ok && v.Bool()
	})

	keep := NewRecord(1)
	keep.Set("keep", Bool(true))
	drop := NewRecord(1)
	drop.Set("keep", Bool(false))

	require.NoError(t, s.Write(drop))
	require.NoError(t, s.Write(keep))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestSynchronizedStream(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSynchronizedStream(buf)

	r := NewRecord(1)
	r.Set("n", Int(1))
	require.NoError(t, s.Write(r))
	require.NoError(t, s.Close())
	assert.Equal(t, `{"n":1}`+"\n", buf.String())
}
