// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"context"
	"encoding/binary"
	"sync"

	"honnef.co/go/safeish"
)

// Buffer is a stream-out buffer in simulated global memory.
type Buffer struct {
	Data []byte
	// Dropped counts dword stores that fell outside the buffer.
	Dropped int
}

// NewBuffer returns a zeroed buffer of size bytes. The memory is dword
// aligned.
func NewBuffer(size int) *Buffer {
	words := make([]uint32, (size+3)/4)
	return &Buffer{Data: safeish.SliceCast[[]byte](words)[:size]}
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint32 {
	if b == nil {
		return 0
	}
	return uint32(len(b.Data))
}

// Dword returns dword i of the buffer.
func (b *Buffer) Dword(i int) uint32 {
	return b.Dwords()[i]
}

// Dwords returns the buffer contents as dwords. The slice shares memory
// with Data.
func (b *Buffer) Dwords() []uint32 {
	return safeish.SliceCast[[]uint32](b.Data[:len(b.Data)&^3])
}

func (b *Buffer) store(addr, v uint32) {
	if b == nil || uint64(addr)+4 > uint64(len(b.Data)) || addr%4 != 0 {
		if b != nil {
			b.Dropped++
		}
		return
	}
	b.Dwords()[addr/4] = v
}

// AttrKey addresses one vec4 of the attribute ring.
type AttrKey struct {
	Index uint32
	Param uint32
}

// Queries holds the pipeline statistics counters.
type Queries struct {
	GeneratedPrims [4]uint64
	XfbPrims       [4]uint64
	Invocations    uint64
}

// Device is the global state shared by all workgroups of a dispatch.
type Device struct {
	mu   sync.Mutex
	cond *sync.Cond

	// Xfb holds the bound stream-out buffers. A nil buffer has size 0.
	Xfb [4]*Buffer
	// XfbStride is reported by the buffer descriptor.
	XfbStride [4]uint32

	// XfbState holds four {ordered id, byte offset} records for the 64-bit
	// ordered add protocol.
	XfbState [32]byte

	// Counters are the ordered stream-out counters used before 64-bit
	// ordered adds; NextOrderedID is the workgroup allowed to update them.
	Counters      [4]uint32
	NextOrderedID uint32

	Queries Queries

	// Attr holds attribute ring stores.
	Attr map[AttrKey][4]uint32

	// Scratch is the mesh scratch ring, addressed in dwords.
	Scratch map[uint32]uint32
}

// NewDevice returns a device with no buffers bound.
func NewDevice() *Device {
	d := &Device{
		Attr:    make(map[AttrKey][4]uint32),
		Scratch: make(map[uint32]uint32),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// BindXfb binds a stream-out buffer of size bytes.
func (d *Device) BindXfb(i int, size int, stride uint32) *Buffer {
	d.Xfb[i] = NewBuffer(size)
	d.XfbStride[i] = stride
	return d.Xfb[i]
}

// XfbRecord returns the {ordered id, offset} record of buffer i.
func (d *Device) XfbRecord(i int) (id, offset uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return binary.LittleEndian.Uint32(d.XfbState[i*8:]), binary.LittleEndian.Uint32(d.XfbState[i*8+4:])
}

// AttrValue returns a stored attribute and whether it was written.
func (d *Device) AttrValue(index, param uint32) ([4]uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.Attr[AttrKey{index, param}]
	return v, ok
}

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }

// wait blocks on the device condition until cond holds or ctx is done.
// It must be called with the device locked.
func (d *Device) wait(ctx context.Context, cond func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()
	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
	return nil
}

func (d *Device) stateDword(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(d.XfbState[addr:])
}

func (d *Device) setStateDword(addr, v uint32) {
	binary.LittleEndian.PutUint32(d.XfbState[addr:], v)
}
