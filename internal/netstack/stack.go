package netstack

import (
	"context"
	"net"

	"github.com/openperf/corenet/errs"
)

// Stack is the narrow external interface spec §4.5 asks the adapter
// to wrap: per-interface lifecycle, frame input, and the BSD PCB
// lifecycle, all executed on one dedicated stack thread. Every method
// here is safe to call from any goroutine; each call blocks until the
// stack thread has processed and acknowledged it, matching "other
// threads submit work via a message queue whose deliveries block the
// submitter until the stack thread acks."
type Stack interface {
	AddInterface(cfg InterfaceConfig, port int) (*Interface, error)
	RemoveInterface(ifaceID int) error
	SetUp(ifaceID int, up bool) error
	SetLinkUp(ifaceID int, up bool) error
	Input(frame []byte, ifaceID int) error

	NewPCB(kind PCBKind) (*PCB, error)
	Bind(p *PCB, addr net.Addr) error
	Connect(p *PCB, addr net.Addr) error
	Listen(p *PCB, backlog int) error
	Accept(p *PCB) (*PCB, error)
	Send(p *PCB, payload []byte, addr net.Addr) (int, error)
	Recv(p *PCB) (payload []byte, from net.Addr, err error)
	ClosePCB(p *PCB) error

	ARPLookup(ip net.IP) (mac net.HardwareAddr, ok bool)
	ARPInsert(ip net.IP, mac net.HardwareAddr)
	NDLookup(ip net.IP) (mac net.HardwareAddr, ok bool)
	NDInsert(ip net.IP, mac net.HardwareAddr)

	// SubmitARPQuery and SubmitNDSolicit ask the stack to resolve ip,
	// per spec §4.7's "submits a single ARP query or neighbor-solicit
	// per address to the stack thread." Both return immediately;
	// resolution (if any) lands asynchronously in the ARP/ND cache for
	// a later ARPLookup/NDLookup to observe. Submitting a query for an
	// address already in flight or already resolved is a no-op.
	SubmitARPQuery(ip net.IP)
	SubmitNDSolicit(ip net.IP)
}

// stackThread serializes every Stack call onto one goroutine via a
// work-item channel, matching spec §4.5's "single dedicated thread;
// other threads submit work via a message queue whose deliveries
// block the submitter until the stack thread acks."
type stackThread struct {
	work chan func()
	stop chan struct{}
	done chan struct{}
}

func newStackThread() *stackThread {
	t := &stackThread{
		work: make(chan func(), 256),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *stackThread) run() {
	defer close(t.done)
	for {
		select {
		case fn := <-t.work:
			fn()
		case <-t.stop:
			return
		}
	}
}

// submit runs fn on the stack thread and blocks until it completes.
func (t *stackThread) submit(fn func()) {
	ack := make(chan struct{})
	t.work <- func() {
		fn()
		close(ack)
	}
	<-ack
}

// Close stops the stack thread, draining no further submissions.
func (t *stackThread) Close(ctx context.Context) error {
	close(t.stop)
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return errs.New(errs.Timeout, "stack thread did not stop in time")
	}
}
