package driver

import (
	"sync"

	"github.com/pkg/errors"

	"firestige.xyz/ministack/internal/core"
)

// DefaultPipeDepth is the number of frames a pipe end buffers.
const DefaultPipeDepth = 256

// ErrPipeFull is returned by Send when the peer has not drained its queue.
var ErrPipeFull = errors.New("ministack: pipe queue full")

// PipeEnd is one side of an in-memory link created by NewPipe.
type PipeEnd struct {
	in   chan []byte
	peer *PipeEnd

	mu     sync.Mutex
	closed bool
}

// NewPipe returns two connected drivers: frames sent on one are received on
// the other, in order. Each end buffers up to depth frames.
func NewPipe(depth int) (*PipeEnd, *PipeEnd) {
	if depth <= 0 {
		depth = DefaultPipeDepth
	}
	a := &PipeEnd{in: make(chan []byte, depth)}
	b := &PipeEnd{in: make(chan []byte, depth)}
	a.peer, b.peer = b, a
	return a, b
}

// Send copies frame onto the peer's queue.
func (p *PipeEnd) Send(frame []byte) error {
	if p.isClosed() {
		return core.ErrDriverClosed
	}
	f := append([]byte(nil), frame...)
	select {
	case p.peer.in <- f:
		return nil
	default:
		return ErrPipeFull
	}
}

func (p *PipeEnd) Recv(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, core.ErrDriverClosed
	}
	select {
	case f := <-p.in:
		return copy(buf, f), nil
	default:
		return 0, nil
	}
}

// Pending reports how many frames are waiting to be received on this end.
func (p *PipeEnd) Pending() int {
	return len(p.in)
}

// Drain removes and returns every frame queued on this end.
func (p *PipeEnd) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-p.in:
			out = append(out, f)
		default:
			return out
		}
	}
}

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *PipeEnd) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
