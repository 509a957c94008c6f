package ipc

import (
	"reflect"

	"github.com/pierrejay/dmxgateway/host/pmem"
)

// mailboxRegisterBlock mirrors the status/command/data register triad
// spec.md §4.3/§9 calls out: status carries the pending bit (acknowledged
// write-1-to-clear), command/data carry the doorbell payload, and intmux
// selects which interrupt line the "A→B" event routes to.
type mailboxRegisterBlock struct {
	status uint32
	command uint32
	data    uint32
	intmux  uint32
}

const intmuxEnableAToB = 1 << 0

// PmemMailboxRegs is the production MailboxRegs, backed by a
// physical-memory-mapped register block using the same pmem.View
// struct-mapping idiom as host/bcm283x. It deliberately does not use any
// vendor mailbox helper library — spec.md §4.3/§9 call this out explicitly
// as a known-defective dependency to avoid.
type PmemMailboxRegs struct {
	view *pmem.View
	regs *mailboxRegisterBlock
}

// MapMailbox maps size bytes at physical address base.
func MapMailbox(base uint64, size int) (*PmemMailboxRegs, error) {
	view, err := pmem.Map(base, size)
	if err != nil {
		return nil, err
	}
	r := &PmemMailboxRegs{view: view}
	if err := view.Struct(reflect.ValueOf(&r.regs)); err != nil {
		view.Close()
		return nil, err
	}
	return r, nil
}

// Close unmaps the register view.
func (r *PmemMailboxRegs) Close() error {
	return r.view.Close()
}

func (r *PmemMailboxRegs) Status() uint32  { return r.regs.status }
func (r *PmemMailboxRegs) Command() uint32 { return r.regs.command }
func (r *PmemMailboxRegs) Data() uint32    { return r.regs.data }

// AckWriteOneClear writes bits back to the status register: on this
// register family, writing a 1 to a status bit clears it, never a blind
// store of 0 (which on some peer SoCs re-arms rather than clears).
func (r *PmemMailboxRegs) AckWriteOneClear(bits uint32) {
	r.regs.status = bits
}

// Doorbell writes the command/data pair to signal the peer.
func (r *PmemMailboxRegs) Doorbell(cmd, data uint32) {
	r.regs.command = cmd
	r.regs.data = data
}

// EnableAToBInterrupt configures the interrupt multiplexer path and arms
// the A→B interrupt in level-triggered mode (spec.md §4.3).
func (r *PmemMailboxRegs) EnableAToBInterrupt() {
	r.regs.intmux = intmuxEnableAToB
}
