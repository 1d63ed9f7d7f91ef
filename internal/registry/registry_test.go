package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/indexhandler"
	"github.com/vulcanodb/axon/query"
)

type fakeHandler struct {
	field  string
	closed bool
	err    error
}

func (f *fakeHandler) FieldName() string { return f.field }
func (f *fakeHandler) Index(internalID int64, doc document.Document) error { return nil }
func (f *fakeHandler) Remove(internalID int64) error                       { return nil }
func (f *fakeHandler) Search(leaf query.Leaf, maxResults int) ([]indexhandler.IndexMatch, error) {
	return nil, nil
}
func (f *fakeHandler) Flush() error { return nil }

func (f *fakeHandler) Close() error {
	f.closed = true
	return f.err
}

func TestRegisterAndIsIndexed(t *testing.T) {
	r := New(Config{})
	assert.False(t, r.IsIndexed("genre"))

	require.NoError(t, r.Register("genre", &fakeHandler{}))
	assert.True(t, r.IsIndexed("genre"))
	assert.False(t, r.IsIndexed("year"))
}

func TestGetReturnsRegisteredHandler(t *testing.T) {
	r := New(Config{})
	h := &fakeHandler{}
	require.NoError(t, r.Register("embedding", h))

	got, ok := r.Get("embedding")
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestFieldNamesListsAllRegistered(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register("a", &fakeHandler{}))
	require.NoError(t, r.Register("b", &fakeHandler{}))

	assert.ElementsMatch(t, []string{"a", "b"}, r.FieldNames())
}

func TestCloseClosesEveryHandlerOnce(t *testing.T) {
	r := New(Config{})
	h1 := &fakeHandler{}
	h2 := &fakeHandler{}
	require.NoError(t, r.Register("a", h1))
	require.NoError(t, r.Register("b", h2))

	require.NoError(t, r.Close())
	assert.True(t, h1.closed)
	assert.True(t, h2.closed)

	// second close is a no-op, not a double-close of the handlers
	h1.closed, h2.closed = false, false
	require.NoError(t, r.Close())
	assert.False(t, h1.closed)
	assert.False(t, h2.closed)
}

func TestRegisterAfterCloseFails(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Close())

	err := r.Register("x", &fakeHandler{})
	assert.Error(t, err)
}
