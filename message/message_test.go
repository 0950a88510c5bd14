package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want ID
	}{
		{`1`, NumberID(1)},
		{`-42`, NumberID(-42)},
		{`"mymethod1"`, StringID("mymethod1")},
		{`null`, NullID},
	}
	for _, tc := range cases {
		var id ID
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &id), tc.raw)
		assert.Equal(t, tc.want, id, tc.raw)
	}
}

func TestIDRejectsFractionalAndObjects(t *testing.T) {
	for _, raw := range []string{`0.6666`, `{"this":"should fail."}`, `[1]`, `true`} {
		var id ID
		assert.Error(t, json.Unmarshal([]byte(raw), &id), raw)
	}
}

func TestIDAsMapKey(t *testing.T) {
	m := map[ID]int{NumberID(7): 1, StringID("7"): 2}
	assert.Equal(t, 1, m[NumberID(7)])
	assert.Equal(t, 2, m[StringID("7")])
	assert.Len(t, m, 2)
}

func TestAbsentIDMarshalsAsNull(t *testing.T) {
	data, err := json.Marshal(ID{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
	assert.True(t, ID{}.IsAbsent())
	assert.False(t, NullID.IsAbsent())
}

func TestNotification(t *testing.T) {
	assert.True(t, NewNotification("log", []any{"hi"}).IsNotification())
	assert.False(t, NewRequest(NullID, "log", nil).IsNotification())
	assert.False(t, NewCallback(NumberID(1), true).IsNotification())
}

func TestEnvelopeString(t *testing.T) {
	env := NewErrorReply(NumberID(8), NewError(CodeMethodNotFound, ReasonUnknownMethod))
	assert.Equal(t, "error{id:8 reason:UnknownMethod}", env.String())
}
