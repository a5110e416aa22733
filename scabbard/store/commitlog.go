package store

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/tidwall/wal"

	"splinter/configs"
	"splinter/utils"
)

// CommitLog is the append-only record of decided values, one entry per
// committed epoch. Appends are buffered and batch-synced on an interval;
// on restart the log is replayed to recover the last committed epoch and
// its value.
type CommitLog struct {
	latch  sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch
	done   chan struct{}
	once   sync.Once
}

func OpenCommitLog(path string) (*CommitLog, error) {
	logs, err := wal.Open(path, nil)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to open commit log")
	}
	lsn, err := logs.LastIndex()
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to read commit log index")
	}
	c := &CommitLog{
		lsn:    lsn,
		logs:   logs,
		buffer: &wal.Batch{},
		done:   make(chan struct{}),
	}
	go c.batchSync()
	return c, nil
}

// Append records the decided value of an epoch.
func (c *CommitLog) Append(epoch uint64, value []byte) {
	entry := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(entry[:8], epoch)
	copy(entry[8:], value)

	c.latch.Lock()
	defer c.latch.Unlock()
	c.lsn++
	c.buffer.Write(c.lsn, entry)
}

// Replay walks every synced entry oldest-first.
func (c *CommitLog) Replay(fn func(epoch uint64, value []byte) error) error {
	c.flush()
	first, err := c.logs.FirstIndex()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to read commit log")
	}
	last, err := c.logs.LastIndex()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to read commit log")
	}
	if last == 0 {
		return nil
	}
	for i := first; i <= last; i++ {
		entry, err := c.logs.Read(i)
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to read commit log entry")
		}
		if len(entry) < 8 {
			return utils.NewError(utils.KindInternal, "truncated commit log entry")
		}
		if err := fn(binary.BigEndian.Uint64(entry[:8]), entry[8:]); err != nil {
			return err
		}
	}
	return nil
}

// LastCommit returns the most recent committed epoch and value.
func (c *CommitLog) LastCommit() (epoch uint64, value []byte, ok bool, err error) {
	replayErr := c.Replay(func(e uint64, v []byte) error {
		epoch, value, ok = e, v, true
		return nil
	})
	return epoch, value, ok, replayErr
}

// Close flushes outstanding entries and releases the log.
func (c *CommitLog) Close() error {
	c.once.Do(func() { close(c.done) })
	c.flush()
	return c.logs.Close()
}

func (c *CommitLog) flush() {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.buffer == nil {
		return
	}
	if err := c.logs.WriteBatch(c.buffer); err != nil {
		panic(err)
	}
	c.buffer.Clear()
}

func (c *CommitLog) batchSync() {
	for {
		select {
		case <-time.After(configs.CommitLogBatchInterval):
			c.flush()
		case <-c.done:
			return
		}
	}
}
