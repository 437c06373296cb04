package telegrampoller

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_KeepsPayloadsWithoutTypedField(t *testing.T) {
	data := []byte(`{"update_id":42,"inline_query":{"id":"q1","from":{"id":7,"is_bot":false,"first_name":"A"},"query":"cats","offset":""}}`)

	var u Update
	require.NoError(t, json.Unmarshal(data, &u))

	assert.Equal(t, 42, u.UpdateID)
	assert.Nil(t, u.Message)
	assert.Equal(t, "inline_query", u.Type())
	assert.JSONEq(t, string(data), string(u.Raw))

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out), "raw payload survives re-encoding")
}

func TestUpdate_TypedPayload(t *testing.T) {
	data := []byte(`{"update_id":1,"message":{"message_id":3,"date":1,"chat":{"id":9,"type":"private"},"text":"hi"}}`)

	var u Update
	require.NoError(t, json.Unmarshal(data, &u))

	require.NotNil(t, u.Message)
	assert.Equal(t, "hi", u.Message.Text)
	assert.Equal(t, UpdateTypeMessage, u.Type())
}

func TestUpdate_DecodesBatch(t *testing.T) {
	data := []byte(`[{"update_id":1,"my_chat_member":{"date":1}},{"update_id":2,"poll":{"id":"p"}}]`)

	var updates []Update
	require.NoError(t, json.Unmarshal(data, &updates))

	require.Len(t, updates, 2)
	assert.Equal(t, "my_chat_member", updates[0].Type())
	assert.Equal(t, "poll", updates[1].Type())
	assert.JSONEq(t, `{"update_id":2,"poll":{"id":"p"}}`, string(updates[1].Raw))
}

func TestUpdate_MarshalWithoutRaw(t *testing.T) {
	u := Update{UpdateID: 5, CallbackQuery: &CallbackQuery{ID: "cb", Data: "x"}}

	out, err := json.Marshal(u)
	require.NoError(t, err)

	var back map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Contains(t, back, "callback_query")
	assert.NotContains(t, back, "Raw")
	assert.Equal(t, "unknown", Update{UpdateID: 1}.Type())
}
