package objectstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/collectiongc/internal/gc"
)

func TestChunk_SplitsIntoBoundedBatches(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunk(in, 2))
}

func TestChunk_SingleBatchWhenUnderSize(t *testing.T) {
	in := []string{"a", "b"}
	assert.Equal(t, [][]string{{"a", "b"}}, chunk(in, 1000))
}

func TestChunk_EmptyInputYieldsOneEmptyBatch(t *testing.T) {
	assert.Equal(t, [][]string{nil}, chunk(nil, 1000))
}

func TestStore_ListFiles_ReturnsSegmentsForVersion(t *testing.T) {
	cid := gc.CollectionID(uuid.New())
	vf := &gc.VersionFile{
		CollectionID: cid,
		History: []gc.VersionInfo{
			{Version: 0, FileReferences: []string{"a", "b"}},
			{Version: 1, FileReferences: []string{"c"}},
		},
	}

	s := &Store{}
	paths, err := s.ListFiles(context.Background(), vf, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, paths)
}

func TestStore_ListFiles_ErrorsOnMissingVersion(t *testing.T) {
	cid := gc.CollectionID(uuid.New())
	vf := &gc.VersionFile{CollectionID: cid}

	s := &Store{}
	_, err := s.ListFiles(context.Background(), vf, 5)
	assert.Error(t, err)
}
