// Package dap implements the bridge's side of the Debug Adapter Protocol (DAP).
//
// This package provides:
//   - Transport: Content-Length framed message I/O over a socket
//   - Channel: sequence numbering and request/response correlation
//   - SessionManager: the single bridge session and its debug operations
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport frames DAP messages onto a duplex byte stream
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// DialTransport creates a transport connected to a TCP address
func DialTransport(ctx context.Context, address string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to debuggee at %s: %w", address, err)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an established stream
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// ReadRaw reads one framed message body. A frame is always consumed whole,
// so a body that fails to decode later does not desynchronize the stream.
func (t *Transport) ReadRaw() ([]byte, error) {
	body, err := dap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return body, nil
}

// Write encodes msg as JSON and writes it as one frame
func (t *Transport) Write(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode DAP message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := dap.WriteBaseMessage(t.writer, body); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
