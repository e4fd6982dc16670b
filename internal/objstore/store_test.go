package objstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecpack/packline/internal/objmodel"
	"github.com/vecpack/packline/internal/objstore"
)

func newStore(t *testing.T) *objstore.Store {
	t.Helper()
	s, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newStore(t)

	id, err := s.Write(objmodel.KindBlob, []byte("hello, object store"))
	require.NoError(t, err)
	assert.True(t, s.Has(id))

	kind, size, data, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, objmodel.KindBlob, kind)
	assert.EqualValues(t, len(data), size)
	assert.Equal(t, []byte("hello, object store"), data)
}

func TestWriteIsContentAddressedAndIdempotent(t *testing.T) {
	s := newStore(t)

	id1, err := s.Write(objmodel.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	id2, err := s.Write(objmodel.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	idOther, err := s.Write(objmodel.KindBlob, []byte("different bytes"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, idOther)
}

func TestWriteDistinguishesKindWithSameBytes(t *testing.T) {
	s := newStore(t)

	blobID, err := s.Write(objmodel.KindBlob, []byte("payload"))
	require.NoError(t, err)
	treeID, err := s.Write(objmodel.KindTree, []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, blobID, treeID)
}

func TestReadMissingObject(t *testing.T) {
	s := newStore(t)
	var id objmodel.ID
	_, _, _, err := s.Read(id)
	assert.Error(t, err)
	assert.False(t, s.Has(id))
}

func TestTreeSerializeDeserializeRoundTrip(t *testing.T) {
	s := newStore(t)
	blobID, err := s.Write(objmodel.KindBlob, []byte("leaf"))
	require.NoError(t, err)
	subtreeID, err := s.Write(objmodel.KindTree, []byte("nested tree payload"))
	require.NoError(t, err)

	entries := []objstore.TreeEntry{
		{Name: "b.txt", ID: blobID, Kind: objmodel.KindBlob},
		{Name: "a.txt", ID: blobID, Kind: objmodel.KindBlob},
		{Name: "sub", ID: subtreeID, Kind: objmodel.KindTree},
	}
	encoded := objstore.SerializeTree(entries)

	decoded, err := objstore.DeserializeTree(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	// DeserializeTree returns entries in the sorted order SerializeTree wrote them in.
	assert.Equal(t, "a.txt", decoded[0].Name)
	assert.Equal(t, "b.txt", decoded[1].Name)
	assert.Equal(t, "sub", decoded[2].Name)
	assert.Equal(t, objmodel.KindTree, decoded[2].Kind)
	assert.Equal(t, subtreeID, decoded[2].ID)
}

func TestDeserializeTreeRejectsTruncatedEntry(t *testing.T) {
	_, err := objstore.DeserializeTree([]byte("100644 a.txt\x00short"))
	assert.Error(t, err)
}

func TestTagSerializeDeserializeRoundTrip(t *testing.T) {
	s := newStore(t)
	target, err := s.Write(objmodel.KindCommit, []byte("commit body"))
	require.NoError(t, err)

	encoded := objstore.SerializeTag(objstore.Tag{Name: "v1.0.0", Target: target})
	decoded, err := objstore.DeserializeTag(encoded)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", decoded.Name)
	assert.Equal(t, target, decoded.Target)
}

func TestWalkTreeVisitsPreOrderWithPathHints(t *testing.T) {
	s := newStore(t)

	leaf1, err := s.Write(objmodel.KindBlob, []byte("leaf one"))
	require.NoError(t, err)
	leaf2, err := s.Write(objmodel.KindBlob, []byte("leaf two"))
	require.NoError(t, err)

	subtreeData := objstore.SerializeTree([]objstore.TreeEntry{
		{Name: "nested.txt", ID: leaf2, Kind: objmodel.KindBlob},
	})
	subtreeID, err := s.Write(objmodel.KindTree, subtreeData)
	require.NoError(t, err)

	rootData := objstore.SerializeTree([]objstore.TreeEntry{
		{Name: "top.txt", ID: leaf1, Kind: objmodel.KindBlob},
		{Name: "dir", ID: subtreeID, Kind: objmodel.KindTree},
	})
	rootID, err := s.Write(objmodel.KindTree, rootData)
	require.NoError(t, err)

	type visited struct {
		id       objmodel.ID
		kind     objmodel.Kind
		pathHint string
	}
	var got []visited
	err = s.WalkTree(rootID, func(id objmodel.ID, kind objmodel.Kind, pathHint string) error {
		got = append(got, visited{id, kind, pathHint})
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, rootID, got[0].id)
	assert.Equal(t, "", got[0].pathHint)
	assert.Equal(t, "dir", got[1].pathHint)
	assert.Equal(t, subtreeID, got[1].id)
	assert.Equal(t, "dir/nested.txt", got[2].pathHint)
	assert.Equal(t, leaf2, got[2].id)
	assert.Equal(t, "top.txt", got[3].pathHint)
	assert.Equal(t, leaf1, got[3].id)
}

func TestTagTipsOnlyFollowsOneLayer(t *testing.T) {
	s := newStore(t)

	commit, err := s.Write(objmodel.KindCommit, []byte("tip commit"))
	require.NoError(t, err)
	tagID, err := s.Write(objmodel.KindTag, objstore.SerializeTag(objstore.Tag{Name: "v1", Target: commit}))
	require.NoError(t, err)

	// A tag pointing at another tag: TagTips does not peel through it.
	nestedTagID, err := s.Write(objmodel.KindTag, objstore.SerializeTag(objstore.Tag{Name: "v1-alias", Target: tagID}))
	require.NoError(t, err)

	tips, err := s.TagTips([]objmodel.ID{tagID, nestedTagID})
	require.NoError(t, err)
	assert.Len(t, tips, 2)
	assert.True(t, tips[commit])
	assert.True(t, tips[tagID])
}

func TestTagTipsIgnoresNonTagIDs(t *testing.T) {
	s := newStore(t)
	blobID, err := s.Write(objmodel.KindBlob, []byte("not a tag"))
	require.NoError(t, err)

	tips, err := s.TagTips([]objmodel.ID{blobID})
	require.NoError(t, err)
	assert.Empty(t, tips)
}
