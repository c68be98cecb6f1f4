package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	Batch int    `json:"batch"`
	Stage string `json:"stage"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"stage": n.Stage}
}

func TestPublisherRecordsWireForm(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "chunks", notice{Batch: 1, Stage: "detail"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "runs", "done")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"batch":1,"stage":"detail"}`, string(msgs[0].Data))
	assert.Equal(t, map[string]string{"stage": "detail"}, msgs[0].Attributes)
	assert.Nil(t, msgs[1].Attributes)

	var decoded notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, 1, decoded.Batch)

	msgs[0].Topic = "modified"
	assert.Equal(t, "chunks", pub.Messages()[0].Topic, "Messages() must return a copy")
	require.Len(t, pub.ForTopic("runs"), 1)
	assert.Empty(t, pub.ForTopic("other"))
}

func TestPublisherRejectsUnencodable(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "chunks", make(chan int))
	require.Error(t, err)
	assert.Empty(t, New().Messages())
}
