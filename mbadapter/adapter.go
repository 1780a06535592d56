// Package mbadapter is a thin facade over the Modbus/TCP client library
// used to talk to the shared Modbus server. It exposes only the two
// operations the mirror consumes: a chunked holding-register block read
// and a single-register write. The underlying client
// (github.com/aldas/go-modbus-client) is the out-of-scope external
// collaborator named by the mirror's specification; this package performs
// no byte swapping of its own — that reconciliation happens one layer up,
// in the synchronizer.
package mbadapter

import (
	"context"
	"encoding/binary"
	"fmt"

	modbus "github.com/aldas/go-modbus-client"
	"github.com/aldas/go-modbus-client/packet"
)

// MaxChunkWords is the largest number of words requested in a single
// underlying read, comfortably under the Modbus protocol ceiling of 125
// registers per PDU.
const MaxChunkWords = 120

// Doer is the subset of github.com/aldas/go-modbus-client's *modbus.Client
// that Adapter needs. Declaring it lets tests substitute a fake transport
// without a real TCP server, the same shape as poller.Client in the
// upstream library.
type Doer interface {
	Connect(ctx context.Context, address string) error
	Close() error
	Do(ctx context.Context, req packet.Request) (packet.Response, error)
}

// Adapter wraps a Doer for one Modbus/TCP server endpoint and slave ID.
type Adapter struct {
	client  Doer
	address string
	unitID  uint8
}

// New creates an Adapter with the default TCP Modbus client configuration.
func New(address string, unitID uint8) *Adapter {
	return NewWithConfig(address, unitID, modbus.ClientConfig{})
}

// NewWithConfig creates an Adapter with explicit client timeouts/hooks.
func NewWithConfig(address string, unitID uint8, conf modbus.ClientConfig) *Adapter {
	return &Adapter{
		client:  modbus.NewTCPClientWithConfig(conf),
		address: address,
		unitID:  unitID,
	}
}

// newWithDoer is used by tests to inject a fake Doer.
func newWithDoer(doer Doer, unitID uint8) *Adapter {
	return &Adapter{client: doer, unitID: unitID}
}

// Connect opens the TCP connection to the Modbus server.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.client.Connect(ctx, a.address)
}

// Disconnect closes the TCP connection to the Modbus server.
func (a *Adapter) Disconnect() error {
	return a.client.Close()
}

// ReadHoldingBlock reads count holding registers starting at the 0-based
// mbStart address, chunking the request into slices of at most
// MaxChunkWords words and concatenating the results in address order.
func (a *Adapter) ReadHoldingBlock(ctx context.Context, mbStart uint16, count uint16) ([]uint16, error) {
	result := make([]uint16, 0, count)
	addr := mbStart
	remaining := count
	for remaining > 0 {
		chunk := remaining
		if chunk > MaxChunkWords {
			chunk = MaxChunkWords
		}

		req, err := packet.NewReadHoldingRegistersRequestTCP(a.unitID, addr, chunk)
		if err != nil {
			return nil, fmt.Errorf("mbadapter: building read holding registers request: %w", err)
		}
		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("mbadapter: read holding registers: %w", err)
		}
		tcpResp, ok := resp.(*packet.ReadHoldingRegistersResponseTCP)
		if !ok {
			return nil, fmt.Errorf("mbadapter: unexpected response type %T for read holding registers", resp)
		}
		regs, err := packet.NewRegisters(tcpResp.Data, addr)
		if err != nil {
			return nil, fmt.Errorf("mbadapter: parsing register response: %w", err)
		}
		for i := uint16(0); i < chunk; i++ {
			v, err := regs.Uint16(addr + i)
			if err != nil {
				return nil, fmt.Errorf("mbadapter: extracting register %d: %w", addr+i, err)
			}
			result = append(result, v)
		}

		addr += chunk
		remaining -= chunk
	}
	return result, nil
}

// WriteSingleRegister writes value to the 0-based mbStart holding register.
// Used for every Modbus-side write, even within a run of several changed
// indices, because single-register writes are cheap on the Modbus server
// and keep partial-change semantics simple.
func (a *Adapter) WriteSingleRegister(ctx context.Context, mbStart uint16, value uint16) error {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, value)

	req, err := packet.NewWriteSingleRegisterRequestTCP(a.unitID, mbStart, data)
	if err != nil {
		return fmt.Errorf("mbadapter: building write single register request: %w", err)
	}
	if _, err := a.client.Do(ctx, req); err != nil {
		return fmt.Errorf("mbadapter: write single register: %w", err)
	}
	return nil
}
