package devctx

import (
	"unsafe"

	"github.com/ardnew/xhci/platform"
)

// pageSize is the default page size assumed for scratchpad buffers
// (xHCI PAGESIZE register reports this as a multiple of 4 KiB; this
// driver targets the common PageSize=1 i.e. 4 KiB case, per spec S2).
const pageSize = 4096

// DCBAA is the Device Context Base Address Array: a page-aligned array
// of 64-bit physical pointers, index 0 reserved for the scratchpad
// buffer array and index slotID (1..MaxSlotsEn) pointing at that slot's
// Output Context (spec §3, §4.4 step 6).
type DCBAA struct {
	mem  platform.Memory
	base uintptr
	phys uintptr
	size int // number of entries, i.e. MaxSlotsEn+1

	scratchpad *scratchpadArray
}

// NewDCBAA allocates a zeroed DCBAA with maxSlotsEn+1 entries.
func NewDCBAA(mem platform.Memory, maxSlotsEn int) (*DCBAA, error) {
	size := maxSlotsEn + 1
	base, err := mem.AllocAligned(size*8, pageSize, 0)
	if err != nil {
		return nil, err
	}
	return &DCBAA{mem: mem, base: base, phys: mem.PhysAddr(base), size: size}, nil
}

// PhysAddr returns the physical address to program into DCBAAP.
func (d *DCBAA) PhysAddr() uintptr { return d.phys }

func (d *DCBAA) entryAddr(i int) uintptr { return d.base + uintptr(i)*8 }

func (d *DCBAA) writeEntry(i int, phys uintptr) {
	p := (*uint64)(unsafe.Pointer(d.entryAddr(i))) //nolint:govet
	*p = uint64(phys)
}

func (d *DCBAA) readEntry(i int) uint64 {
	p := (*uint64)(unsafe.Pointer(d.entryAddr(i))) //nolint:govet
	return *p
}

// SetSlot installs the physical address of slotID's Output Context at
// DCBAA[slotID].
func (d *DCBAA) SetSlot(slotID uint8, output *OutputContext) {
	d.writeEntry(int(slotID), output.PhysAddr())
}

// ClearSlot zeroes DCBAA[slotID], e.g. after a Disable Slot command.
func (d *DCBAA) ClearSlot(slotID uint8) { d.writeEntry(int(slotID), 0) }

// SlotPhysAddr returns the physical address currently stored at
// DCBAA[slotID].
func (d *DCBAA) SlotPhysAddr(slotID uint8) uintptr { return uintptr(d.readEntry(int(slotID))) }

// scratchpadArray is an array of page-aligned 64-bit pointers, each
// pointing at a fresh page-size, page-aligned zeroed buffer (spec §4.4
// step 7). The controller touches these buffers directly; the driver
// never reads or writes their contents.
type scratchpadArray struct {
	mem     platform.Memory
	base    uintptr
	phys    uintptr
	buffers []uintptr
}

// InitScratchpad allocates the scratchpad pointer array and its backing
// buffers, and installs the array's physical address at DCBAA[0]. A
// count of 0 is a legal no-op (some controllers advertise zero
// scratchpad buffers).
func (d *DCBAA) InitScratchpad(count int) error {
	if count == 0 {
		return nil
	}
	arrayBase, err := d.mem.AllocAligned(count*8, pageSize, 0)
	if err != nil {
		return err
	}
	sp := &scratchpadArray{mem: d.mem, base: arrayBase, phys: d.mem.PhysAddr(arrayBase)}
	sp.buffers = make([]uintptr, count)
	for i := 0; i < count; i++ {
		buf, err := d.mem.AllocAligned(pageSize, pageSize, 0)
		if err != nil {
			for _, b := range sp.buffers[:i] {
				d.mem.Free(b)
			}
			d.mem.Free(arrayBase)
			return err
		}
		sp.buffers[i] = buf
		ptr := (*uint64)(unsafe.Pointer(arrayBase + uintptr(i)*8)) //nolint:govet
		*ptr = uint64(d.mem.PhysAddr(buf))
	}
	d.scratchpad = sp
	d.writeEntry(0, sp.phys)
	return nil
}

// ScratchpadBufferCount reports how many scratchpad buffers were
// allocated (0 if InitScratchpad was never called or count was 0).
func (d *DCBAA) ScratchpadBufferCount() int {
	if d.scratchpad == nil {
		return 0
	}
	return len(d.scratchpad.buffers)
}

// Free releases the DCBAA and any scratchpad allocations.
func (d *DCBAA) Free() {
	if d.scratchpad != nil {
		for _, b := range d.scratchpad.buffers {
			d.mem.Free(b)
		}
		d.mem.Free(d.scratchpad.base)
	}
	d.mem.Free(d.base)
}
