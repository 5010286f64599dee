// Package fakeplatform provides in-process fakes for platform.PCIDevice,
// platform.Memory, and platform.Clock, used by this module's package
// tests in place of the teacher's mockHAL (host/host_test.go). It is
// exported (not a _test.go file) so every package's tests can share one
// implementation, the same role the teacher's hal.HostHAL abstraction
// plays for a software-only FIFO backend in tests.
package fakeplatform

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

func arenaAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0])) //nolint:govet
}

// Memory is an in-process platform.Memory backed by a single large byte
// arena, identity-mapped (PhysAddr(x) == x), matching the reviewed
// platform's assumption (spec §6 "identity-mapped backing is assumed").
type Memory struct {
	mu     sync.Mutex
	arena  []byte
	offset int
	freed  map[uintptr]int // allocated but never consulted: Free is a no-op
}

// NewMemory allocates a zeroed arena of the given size for a test run.
func NewMemory(size int) *Memory {
	return &Memory{arena: make([]byte, size), freed: make(map[uintptr]int)}
}

// Alloc implements platform.Memory.
func (m *Memory) Alloc(size int) (uintptr, error) {
	return m.AllocAligned(size, 1, 0)
}

// AllocAligned implements platform.Memory, bump-allocating within the
// arena and padding as needed to satisfy align and boundary.
func (m *Memory) AllocAligned(size int, align int, boundary int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := m.offset
	if align > 0 {
		if rem := off % align; rem != 0 {
			off += align - rem
		}
	}
	if boundary > 0 {
		start := off
		end := off + size
		if start/boundary != (end-1)/boundary {
			off = ((start / boundary) + 1) * boundary
		}
	}
	if off+size > len(m.arena) {
		return 0, fmt.Errorf("fakeplatform: arena exhausted (need %d at %d, have %d)", size, off, len(m.arena))
	}
	base := uintptr(off) + m.arenaBase()
	m.offset = off + size
	return base, nil
}

// arenaBase returns the virtual address of arena[0]; computed from the
// slice header so callers can do real pointer arithmetic against it.
func (m *Memory) arenaBase() uintptr {
	return arenaAddr(m.arena)
}

// Free is a no-op bump allocator; tests run short-lived scenarios and
// never need to reclaim memory mid-test.
func (m *Memory) Free(unsafePtr uintptr) {}

// PhysAddr implements platform.Memory under the identity-mapping
// assumption.
func (m *Memory) PhysAddr(unsafePtr uintptr) uintptr { return unsafePtr }

// MapMMIO implements platform.Memory by returning phys unchanged
// (identity mapping), standing in for a real MMIO mapping.
func (m *Memory) MapMMIO(phys uintptr, length uintptr) (uintptr, error) {
	return phys, nil
}

// PCIDevice is a fake platform.PCIDevice for controller tests.
type PCIDevice struct {
	ClassCode    uint8
	SubclassCode uint8
	ProgIfCode   uint8
	BAR0Phys     uintptr
	BAR0Length   uintptr
	MSIX         bool

	msixHandler func(any)
	msixCtx     any
}

func (p *PCIDevice) Class() uint8        { return p.ClassCode }
func (p *PCIDevice) Subclass() uint8     { return p.SubclassCode }
func (p *PCIDevice) ProgIf() uint8       { return p.ProgIfCode }
func (p *PCIDevice) BAR0() (uintptr, uintptr) { return p.BAR0Phys, p.BAR0Length }
func (p *PCIDevice) MSIXCapable() bool   { return p.MSIX }

func (p *PCIDevice) InitMSIX() (any, error) { return struct{}{}, nil }

func (p *PCIDevice) SetMSIXVector(desc any, index int, irqVector int, handler func(any), handlerData any) error {
	p.msixHandler = handler
	p.msixCtx = handlerData
	return nil
}

func (p *PCIDevice) EnableMSIX(desc any) error { return nil }

// FireMSIX lets a test simulate the controller raising its MSI-X vector.
func (p *PCIDevice) FireMSIX() {
	if p.msixHandler != nil {
		p.msixHandler(p.msixCtx)
	}
}

// Clock is a fake platform.Clock that never actually sleeps, so bounded
// busy-wait loops in tests complete immediately.
type Clock struct{}

func (Clock) Now() int64 { return 0 }
func (Clock) Sleep(ctx context.Context, nanos int64) {}
