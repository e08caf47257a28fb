package sink

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBSONRecordDocument(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewBSONWriter(buf)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecord(5)
	r.Set("event", String("profile"))
	r.Set("calls", Int(7))
	r.Set("workload", Real(1.5))
	r.Set("ok", Bool(true))
	r.Set("when", Timestamp(ts))
	require.NoError(t, s.Write(r))
	require.NoError(t, s.Close())

	raw := bson.Raw(buf.Bytes())
	require.NoError(t, raw.Validate())

	elems, err := raw.Elements()
	require.NoError(t, err)
	keys := []string{}
	for _, e := range elems {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"event", "calls", "workload", "ok", "when"}, keys)

	assert.Equal(t, "profile", raw.Lookup("event").StringValue())
	assert.EqualValues(t, 7, raw.Lookup("calls").Int64())
	assert.Equal(t, 1.5, raw.Lookup("workload").Double())
	assert.True(t, raw.Lookup("ok").Boolean())
	assert.True(t, ts.Equal(raw.Lookup("when").Time()))
}

func TestBSONMultipleDocuments(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewBSONWriter(buf)

	require.NoError(t, s.Write(numberedRecord(1)))
	require.NoError(t, s.Write(numberedRecord(2)))

	// two length-prefixed documents back to back
	firstLen := int(binary.LittleEndian.Uint32(buf.Bytes()[:4]))
	first := bson.Raw(buf.Bytes()[:firstLen])
	require.NoError(t, first.Validate())
	assert.EqualValues(t, 1, first.Lookup("n").Int64())

	second := bson.Raw(buf.Bytes()[firstLen:])
	require.NoError(t, second.Validate())
	assert.EqualValues(t, 2, second.Lookup("n").Int64())
}
