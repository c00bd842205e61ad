package logservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_RoundTripsGarbageCollectLogsRequest(t *testing.T) {
	codec := jsonCodec{}
	req := &garbageCollectLogsRequest{
		CollectionsToDestroy:        []string{"a", "b"},
		CollectionsToGarbageCollect: map[string]uint64{"c": 42},
		IgnoreMinVersionsForWAL3:    true,
	}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var out garbageCollectLogsRequest
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
}

func TestJSONCodec_Name(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}

func TestJSONCodec_UnmarshalRejectsInvalidJSON(t *testing.T) {
	var out garbageCollectLogsResponse
	err := jsonCodec{}.Unmarshal([]byte("not json"), &out)
	assert.Error(t, err)
}
