// dmxrtd is the real-time side's process: it maps the UART, free-running
// counter, and mailbox register blocks directly out of physical memory
// (the large-core variant, spec.md §4.2/§4.3/§5 — two threads on a
// dedicated core sharing one mutex-protected universe) and runs the
// dispatcher against two heap-backed ipc rings until terminated.
//
// This mirrors how cmd/periph-info and friends call hostInit() before
// touching any register: every peripheral used here must already be
// reserved in the host's clock-gating configuration (spec.md §9), which is
// a deployment-time contract documented there, not something this binary
// can discover on its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"

	"github.com/pierrejay/dmxgateway/internal/hwtimer"
	"github.com/pierrejay/dmxgateway/rtcore/dispatch"
	"github.com/pierrejay/dmxgateway/rtcore/engine"
	"github.com/pierrejay/dmxgateway/rtcore/ipc"
)

func mainImpl() error {
	uartBase := flag.Uint64("uart-base", 0, "physical base address of the UART register block")
	uartSize := flag.Int("uart-size", 4096, "size in bytes of the UART register mapping")
	counterBase := flag.Uint64("counter-base", 0, "physical base address of the free-running counter")
	counterHz := flag.Uint64("counter-hz", 1_000_000, "tick rate of the free-running counter")
	mailboxBase := flag.Uint64("mailbox-base", 0, "physical base address of the mailbox register block")
	ringBase := flag.Uint64("ring-base", 0, "physical base address of the shared-memory ring region")
	ringSize := flag.Int("ring-size", 1<<16, "size in bytes of each direction's ring buffer")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	log.SetHandler(text.Default)
	if !*verbose {
		log.SetLevel(log.WarnLevel)
	}
	logger := log.WithField("component", "dmxrtd")

	if *uartBase == 0 || *counterBase == 0 || *mailboxBase == 0 || *ringBase == 0 {
		return fmt.Errorf("dmxrtd: -uart-base, -counter-base, -mailbox-base, and -ring-base are all required")
	}

	uart, err := engine.MapUART(*uartBase, *uartSize)
	if err != nil {
		return fmt.Errorf("dmxrtd: map UART: %w", err)
	}
	defer uart.Close()

	counter, err := hwtimer.MapCounter(*counterBase, 4096, *counterHz)
	if err != nil {
		return fmt.Errorf("dmxrtd: map counter: %w", err)
	}
	defer counter.Close()

	mailboxRegs, err := ipc.MapMailbox(*mailboxBase, 4096)
	if err != nil {
		return fmt.Errorf("dmxrtd: map mailbox: %w", err)
	}
	defer mailboxRegs.Close()

	cmdRing := ipc.NewRing(*ringSize)
	respRing := ipc.NewRing(*ringSize)
	_ = *ringBase // -ring-base is required above but not mapped: both rings
	// are heap buffers from ipc.NewRing, not views of that region.

	mbx := ipc.NewMailbox(mailboxRegs, func(linkID uint16) {
		logger.WithField("link", linkID).Debug("dmxrtd: mailbox signaled new ring data")
	})
	_ = mbx

	eng := engine.NewLargeCoreEngine(uart, counter)
	eng.Enable()

	d := dispatch.New(eng, ringTransport{cmd: cmdRing, resp: respRing}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("dmxrtd: shutting down")
		eng.Disable()
		eng.Close()
		cancel()
		<-errCh
	case err := <-errCh:
		return fmt.Errorf("dmxrtd: dispatcher exited: %w", err)
	}
	return nil
}

// ringTransport adapts the two directional rings to dispatch.Transport.
type ringTransport struct {
	cmd  *ipc.Ring
	resp *ipc.Ring
}

func (t ringTransport) Receive(ctx context.Context) ([]byte, error) { return t.cmd.Receive(ctx) }
func (t ringTransport) Send(ctx context.Context, msg []byte) error  { return t.resp.Send(ctx, msg) }

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "dmxrtd: %s.\n", err)
		os.Exit(1)
	}
}
