package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSender struct {
	mu    sync.Mutex
	sends map[string][][]byte
}

func (s *recordingSender) Send(recipient string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sends == nil {
		s.sends = make(map[string][][]byte)
	}
	s.sends[recipient] = append(s.sends[recipient], payload)
	return nil
}

func TestDispatcherRoutesByType(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(zaptest.NewLogger(t), sender)

	var got []byte
	d.SetHandler(7, HandlerFunc(func(ctx *MessageContext, payload []byte, s MessageSender) error {
		got = payload
		return s.Send(string(ctx.PeerID), []byte("reply"))
	}))

	ctx := NewContext("peer-1", "conn-1", 7)
	require.NoError(t, d.Dispatch(ctx, []byte("hello")))
	assert.Equal(t, []byte("hello"), got)
	assert.Len(t, sender.sends["peer-1"], 1)
}

func TestUnknownTypeDroppedNotFailed(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t), &recordingSender{})
	err := d.Dispatch(NewContext("peer-1", "conn-1", 42), []byte("x"))
	assert.NoError(t, err)
}

func TestParentedContextValues(t *testing.T) {
	root := NewContext("peer-1", "conn-1", 1)
	root.SetValue("circuit", "QAZED-12345")

	child := root.Child(5)
	v, ok := child.Value("circuit")
	require.True(t, ok)
	assert.Equal(t, "QAZED-12345", v)
	assert.Equal(t, root, child.Parent())
	assert.Equal(t, int32(5), child.MessageType)

	_, ok = root.Value("missing")
	assert.False(t, ok)
}

func TestLoopDeliversFromClonedSenders(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t), &recordingSender{})
	received := make(chan int32, 4)
	d.SetHandler(1, HandlerFunc(func(ctx *MessageContext, payload []byte, s MessageSender) error {
		received <- ctx.MessageType
		return nil
	}))

	loop := NewLoop(zaptest.NewLogger(t), d, 16)
	go loop.Run()
	defer loop.Stop()

	a := loop.Sender()
	b := loop.Sender()
	require.NoError(t, a.Send(NewContext("p", "c", 1), nil))
	require.NoError(t, b.Send(NewContext("p", "c", 1), nil))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("dispatch loop did not deliver")
		}
	}
}
