package postman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderSerializeKeepsInsertionOrder(t *testing.T) {
	ids := seqIDs()
	f := NewFolder(ids, "users")
	f.AddRequest(NewRequest(ids, "/users/z", "https://example.com/users/z", "GET", nil, nil, false, ""))
	f.AddRequest(NewRequest(ids, "/users/a", "https://example.com/users/a", "GET", nil, nil, false, ""))

	doc := f.Serialize()
	assert.Equal(t, "id-01", doc.ID)
	assert.Equal(t, "users", doc.Name)
	assert.Equal(t, []string{"id-02", "id-03"}, doc.Order)
}

func TestFolderCollectionID(t *testing.T) {
	ids := seqIDs()
	f := NewFolder(ids, "users")

	_, err := f.CollectionID()
	require.ErrorIs(t, err, ErrDetached)

	c := NewCollection(ids, "demo", "")
	c.AddFolder(f)

	id, err := f.CollectionID()
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)
}
