package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Payload     []byte `json:"payload" msgpack:"p"`
	ContentType string `json:"content_type" msgpack:"ct"`
}

func TestNew(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", s.Name())

	s, err = New("json")
	require.NoError(t, err)
	assert.Equal(t, "json", s.Name())

	_, err = New("gob")
	assert.ErrorIs(t, err, ErrUnsupportedSerializer)
}

func TestMessagePackKeepsRawPayload(t *testing.T) {
	in := record{Payload: []byte(`{"tasks":[]}`), ContentType: "application/json"}

	data, err := MessagePackSerializer{}.Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, MessagePackSerializer{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
