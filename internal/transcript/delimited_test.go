package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelimited_RoundTrip(t *testing.T) {
	records := [][]byte{
		Encode(&Fragment{Seqnum: 1, Words: []Word{{Text: "the"}}}),
		{},
		Encode(&Fragment{Seqnum: 2, Words: []Word{{Text: "the quick"}}}),
	}

	var file []byte
	for _, r := range records {
		file = AppendDelimited(file, r)
	}

	got, err := SplitDelimited(file)
	require.NoError(t, err)
	require.Len(t, got, len(records))
	for i := range records {
		assert.Equal(t, len(records[i]), len(got[i]), "record %d", i)
	}

	f, err := Decode(got[2])
	require.NoError(t, err)
	assert.Equal(t, "the quick", f.Words[0].Text)
}

func TestSplitDelimited_Truncated(t *testing.T) {
	file := AppendDelimited(nil, Encode(&Fragment{Words: []Word{{Text: "ok"}}}))
	file = AppendDelimited(file, []byte("second record"))

	got, err := SplitDelimited(file[:len(file)-3])
	require.Error(t, err)
	assert.Len(t, got, 1, "records before the damage are returned")
}

func TestSplitDelimited_Empty(t *testing.T) {
	got, err := SplitDelimited(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
