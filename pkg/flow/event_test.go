package flow

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func TestEvent_Handles(t *testing.T) {
	var e Event
	port := NewInputPort[int]("in")

	var a, b int
	ha := e.Connect(func(Port) { a++ })
	hb := e.Setup(func(Port) { b++ })

	if e.Connected() != 1 || hb.Connected() {
		t.Fatalf("Connected = %d, setup handle active = %t", e.Connected(), hb.Connected())
	}

	e.Fire(port)
	if a != 1 || b != 0 {
		t.Fatalf("after first fire a=%d b=%d", a, b)
	}

	if !hb.Connect() || hb.Connect() {
		t.Fatal("Connect should succeed once")
	}
	e.Fire(port)
	if a != 2 || b != 1 {
		t.Fatalf("after second fire a=%d b=%d", a, b)
	}

	if !ha.Disconnect() || ha.Disconnect() {
		t.Fatal("Disconnect should succeed once")
	}
	e.Fire(port)
	if a != 2 || b != 2 {
		t.Fatalf("after third fire a=%d b=%d", a, b)
	}

	e.DisconnectAll()
	if e.Connected() != 0 || hb.Connected() {
		t.Fatal("handles survived DisconnectAll")
	}
	e.Fire(port)
	if b != 2 {
		t.Fatalf("fired after DisconnectAll, b=%d", b)
	}
}

func TestEvent_ConcurrentConnectDisconnect(t *testing.T) {
	var e Event
	port := NewInputPort[int]("in")
	var calls atomic.Int64
	h := e.Setup(func(Port) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				h.Connect()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				h.Disconnect()
			}
		}()
	}
	wg.Wait()

	want := 0
	if h.Connected() {
		want = 1
	}
	if e.Connected() != want {
		t.Fatalf("event lists %d handles, handle connected = %t", e.Connected(), h.Connected())
	}

	h.Disconnect()
	calls.Store(0)
	e.Fire(port)
	if calls.Load() != 0 {
		t.Fatalf("disconnected handle called %d times", calls.Load())
	}
}

func TestInterface(t *testing.T) {
	iface := NewInterface("controller")
	out := NewOutputPort[int]("cmd")
	in := NewInputPort[int]("feedback")

	var events int
	if err := iface.AddPort(out); err != nil {
		t.Fatalf("AddPort failed: %v", err)
	}
	if err := iface.AddEventPort(in, func(Port) { events++ }); err != nil {
		t.Fatalf("AddEventPort failed: %v", err)
	}
	if err := iface.AddPort(NewOutputPort[string]("cmd")); !errors.Is(err, sdkerrors.ErrDuplicatePort) {
		t.Fatalf("duplicate AddPort error = %v", err)
	}

	ports := iface.Ports()
	if len(ports) != 2 || ports[0].Name() != "cmd" || ports[1].Name() != "feedback" {
		t.Fatalf("Ports = %v", ports)
	}

	p, err := iface.Port("feedback")
	if err != nil || p != Port(in) {
		t.Fatalf("Port(feedback) = %v, %v", p, err)
	}
	if _, err := iface.Port("missing"); !errors.Is(err, sdkerrors.ErrPortNotFound) {
		t.Fatalf("Port(missing) error = %v", err)
	}

	if err := out.ConnectTo(in, DataPolicy()); err != nil {
		t.Fatalf("ConnectTo failed: %v", err)
	}
	out.Write(1)
	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}

	if err := iface.RemovePort("feedback"); err != nil {
		t.Fatalf("RemovePort failed: %v", err)
	}
	if in.Connected() || out.Connected() || in.NewDataEvent().Connected() != 0 {
		t.Fatal("removed port still wired")
	}
	if err := iface.RemovePort("feedback"); !errors.Is(err, sdkerrors.ErrPortNotFound) {
		t.Fatalf("second RemovePort error = %v", err)
	}

	iface.Clear()
	if len(iface.Ports()) != 0 {
		t.Fatalf("Ports after Clear = %d", len(iface.Ports()))
	}
}
