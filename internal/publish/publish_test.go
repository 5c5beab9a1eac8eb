package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name  string
	err   error
	blobs map[string][]byte
	calls int
}

func newRecordingSink(name string, err error) *recordingSink {
	return &recordingSink{name: name, err: err, blobs: make(map[string][]byte)}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) SaveBlob(_ context.Context, name string, data []byte) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.blobs[name] = data
	return nil
}

func TestMulti_SaveBlob(t *testing.T) {
	first := newRecordingSink("first", nil)
	second := newRecordingSink("second", nil)

	err := NewMulti(first, second).SaveBlob(context.Background(), "status.json", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, []byte(`{}`), first.blobs["status.json"])
	assert.Equal(t, []byte(`{}`), second.blobs["status.json"])
}

func TestMulti_SaveBlob_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	failing := newRecordingSink("failing", boom)
	healthy := newRecordingSink("healthy", nil)

	err := NewMulti(failing, healthy).SaveBlob(context.Background(), "status.json", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sink failing")

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, []byte(`{}`), healthy.blobs["status.json"])
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, NewMulti().SaveBlob(context.Background(), "status.json", nil))
}
