package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitLogReplayAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits")

	log, err := OpenCommitLog(path)
	require.NoError(t, err)
	log.Append(1, []byte("first"))
	log.Append(2, []byte("second"))
	require.NoError(t, log.Close())

	log, err = OpenCommitLog(path)
	require.NoError(t, err)
	defer log.Close()

	var epochs []uint64
	require.NoError(t, log.Replay(func(epoch uint64, value []byte) error {
		epochs = append(epochs, epoch)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, epochs)

	epoch, value, ok, err := log.LastCommit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), epoch)
	assert.Equal(t, []byte("second"), value)
}

func TestCommitLogEmpty(t *testing.T) {
	log, err := OpenCommitLog(filepath.Join(t.TempDir(), "commits"))
	require.NoError(t, err)
	defer log.Close()

	_, _, ok, err := log.LastCommit()
	require.NoError(t, err)
	assert.False(t, ok)
}
