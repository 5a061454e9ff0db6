// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"fmt"
)

// lds is workgroup-shared memory with a shadow that records, per byte, the
// waves that touched it since the last barrier.
type lds struct {
	data   []byte
	shadow []shadow
}

type shadow struct {
	writeEpoch int
	writer     int
	readEpoch  int
	readers    uint64
}

func newLDS(size uint32) *lds {
	l := &lds{data: make([]byte, size), shadow: make([]shadow, size)}
	for i := range l.shadow {
		l.shadow[i] = shadow{writeEpoch: -1, readEpoch: -1}
	}
	return l
}

// inBounds reports whether n bytes at addr are inside shared memory.
func (l *lds) inBounds(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(l.data)) {
		return fmt.Errorf("%d-byte access at %d exceeds %d bytes of shared memory", n, addr, len(l.data))
	}
	return nil
}

// check validates an access of n bytes at addr by wave in epoch and
// records it. It reports ErrOutOfBounds or ErrRace. Atomics are ordered by
// the hardware and are not recorded.
func (l *lds) check(wave, epoch int, addr uint32, n int, write bool) (ErrorKind, error) {
	if err := l.inBounds(addr, n); err != nil {
		return ErrOutOfBounds, err
	}
	for i := 0; i < n; i++ {
		s := &l.shadow[int(addr)+i]
		if s.writeEpoch == epoch && s.writer != wave {
			return ErrRace, fmt.Errorf("byte %d written by wave %d and accessed by wave %d without a barrier", int(addr)+i, s.writer, wave)
		}
		if write {
			if s.readEpoch == epoch && s.readers&^(1<<wave) != 0 {
				return ErrRace, fmt.Errorf("byte %d read by waves %#x and written by wave %d without a barrier", int(addr)+i, s.readers, wave)
			}
			s.writeEpoch, s.writer = epoch, wave
		} else {
			if s.readEpoch != epoch {
				s.readEpoch, s.readers = epoch, 0
			}
			s.readers |= 1 << wave
		}
	}
	return 0, nil
}

func (l *lds) load(addr uint32, n int) uint64 {
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(l.data[int(addr)+i])
	}
	return v
}

func (l *lds) store(addr uint32, n int, v uint64) {
	for i := 0; i < n; i++ {
		l.data[int(addr)+i] = byte(v >> (8 * i))
	}
}
