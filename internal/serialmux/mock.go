package serialmux

import (
	"bytes"
	"errors"
	"sync"

	"go.bug.st/serial"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort stands in for the UART in tests. Bytes queued with
// AddReadData are what the race host "sent"; everything the node answers is
// kept for GetWrittenData.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond
	rx   bytes.Buffer
	tx   bytes.Buffer

	// ReadError and WriteError fail the next Read or Write once.
	ReadError  error
	WriteError error

	// BlockReads makes Read wait for data instead of returning io.EOF.
	BlockReads bool

	// Closed is set by Close.
	Closed bool
}

// NewTestableSerialPort returns an empty, open port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.rx.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.rx.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.tx.Write(b)
}

// Close marks the port closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues host bytes for subsequent reads.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Write(data)
	p.cond.Signal()
}

// GetWrittenData returns a copy of every byte the node wrote.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.tx.Bytes())
}

// MockOpener records Open calls and returns Port or Error.
type MockOpener struct {
	mu    sync.Mutex
	Port  SerialPorter
	Error error
	Calls []MockOpenCall
}

// MockOpenCall is one recorded Open.
type MockOpenCall struct {
	Path string
	Mode serial.Mode
}

// Open is a SerialPortOpener.
func (o *MockOpener) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.Calls = append(o.Calls, MockOpenCall{Path: path, Mode: *mode})
	if o.Error != nil {
		return nil, o.Error
	}
	return o.Port, nil
}
