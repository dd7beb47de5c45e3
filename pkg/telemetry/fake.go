package telemetry

import (
	"io"
	"sync"
)

// FakePort is an in-memory Port for tests. Bytes written with Write become
// readable by the read loop; Fail ends the stream with an error.
type FakePort struct {
	Name string

	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

// Ensure FakePort implements Port.
var _ Port = (*FakePort)(nil)

// NewFakePort creates an open fake port.
func NewFakePort(name string) *FakePort {
	pr, pw := io.Pipe()
	return &FakePort{Name: name, pr: pr, pw: pw}
}

// Read implements Port.
func (p *FakePort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

// Close implements Port.
func (p *FakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.pr.CloseWithError(ErrPortClosed)
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Write feeds device output. It returns once the reader consumed all of it.
func (p *FakePort) Write(s string) error {
	_, err := io.WriteString(p.pw, s)
	return err
}

// Fail makes the pending and subsequent reads return err.
func (p *FakePort) Fail(err error) {
	_ = p.pw.CloseWithError(err)
}

// FakeFactory hands out FakePorts and remembers them.
type FakeFactory struct {
	mu    sync.Mutex
	ports []*FakePort
	err   error
}

// SetError makes subsequent opens fail with err (nil restores success).
func (f *FakeFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Open implements PortFactory.
func (f *FakeFactory) Open(name string, _ int) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := NewFakePort(name)
	f.ports = append(f.ports, p)
	return p, nil
}

// Opened returns how many ports were opened.
func (f *FakeFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ports)
}

// Last returns the most recently opened port, or nil.
func (f *FakeFactory) Last() *FakePort {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ports) == 0 {
		return nil
	}
	return f.ports[len(f.ports)-1]
}
