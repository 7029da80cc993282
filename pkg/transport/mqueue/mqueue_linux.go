package mqueue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rtos"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// mqAttr mirrors struct mq_attr; C long is the Go int on Linux.
type mqAttr struct {
	Flags   int
	Maxmsg  int
	Msgsize int
	Curmsgs int
	_       [4]int
}

func mqOpen(name string, capacity, msgSize int) (int, error) {
	p, err := unix.BytePtrFromString(strings.TrimPrefix(name, "/"))
	if err != nil {
		return -1, err
	}
	attr := mqAttr{Maxmsg: capacity, Msgsize: msgSize}
	fd, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(p)),
		uintptr(unix.O_RDWR|unix.O_CREAT|unix.O_NONBLOCK|unix.O_CLOEXEC),
		0o600,
		uintptr(unsafe.Pointer(&attr)),
		0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func mqUnlink(name string) error {
	p, err := unix.BytePtrFromString(strings.TrimPrefix(name, "/"))
	if err != nil {
		return err
	}
	if _, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(p)), 0, 0); errno != 0 {
		return errno
	}
	return nil
}

func mqSend(fd int, msg []byte) error {
	var ptr unsafe.Pointer
	if len(msg) > 0 {
		ptr = unsafe.Pointer(&msg[0])
	}
	if _, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND, uintptr(fd), uintptr(ptr), uintptr(len(msg)), 0, 0, 0); errno != 0 {
		return errno
	}
	return nil
}

// mqReceive needs len(buf) >= the queue's message size.
func mqReceive(fd int, buf []byte) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE, uintptr(fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// queue is one open descriptor of a stream. Both endpoints unlink the name
// on close; a later open creates a fresh queue.
type queue struct {
	fd     int
	name   string
	kind   transport.Kind
	logger *zap.Logger

	mu     sync.Mutex
	buf    []byte
	closed atomic.Bool
}

func (p *Protocol) open(spec transport.StreamSpec) (*queue, error) {
	if spec.Kind == transport.KindBuffer && spec.Size <= 0 {
		return nil, sdkerrors.ErrInvalidBufferSize
	}
	name := transport.StreamName(spec)
	fd, err := mqOpen(name, spec.Capacity(), p.msgSize)
	if err != nil {
		return nil, fmt.Errorf("mq_open %s: %w", name, err)
	}
	p.logger.Debug("Message queue opened",
		zap.String("stream", name),
		zap.Int("capacity", spec.Capacity()),
		zap.Int("msg_size", p.msgSize))
	return &queue{
		fd:     fd,
		name:   name,
		kind:   spec.Kind,
		logger: p.logger,
		buf:    make([]byte, p.msgSize),
	}, nil
}

// receive returns a copy of the oldest pending message. ok is false when the
// queue is empty.
func (q *queue) receive() ([]byte, bool, error) {
	n, err := mqReceive(q.fd, q.buf)
	if errors.Is(err, unix.EAGAIN) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mq_timedreceive %s: %w", q.name, err)
	}
	return append([]byte(nil), q.buf[:n]...), true, nil
}

func (q *queue) close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(q.fd)
	if uerr := mqUnlink(q.name); uerr != nil && !errors.Is(uerr, unix.ENOENT) && err == nil {
		err = uerr
	}
	q.logger.Debug("Message queue closed", zap.String("stream", q.name))
	return err
}

type writer struct {
	q *queue
}

func (p *Protocol) OpenWriter(spec transport.StreamSpec) (transport.Writer, error) {
	q, err := p.open(spec)
	if err != nil {
		return nil, err
	}
	return &writer{q: q}, nil
}

func (w *writer) Write(msg []byte) (bool, error) {
	q := w.q
	if q.closed.Load() {
		return false, sdkerrors.ErrTransportClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	err := mqSend(q.fd, msg)
	if errors.Is(err, unix.EAGAIN) && q.kind == transport.KindData {
		// The reader has not consumed the previous sample yet.
		if _, _, rerr := q.receive(); rerr != nil {
			return false, rerr
		}
		err = mqSend(q.fd, msg)
	}
	if errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mq_timedsend %s: %w", q.name, err)
	}
	return true, nil
}

func (w *writer) Close() error { return w.q.close() }

type reader struct {
	q    *queue
	disp *dispatcher
}

func (p *Protocol) OpenReader(spec transport.StreamSpec, notify func()) (transport.Reader, error) {
	q, err := p.open(spec)
	if err != nil {
		return nil, err
	}
	r := &reader{q: q}
	if notify == nil {
		return r, nil
	}

	d, err := p.dispatcher()
	if err == nil {
		err = d.add(q.fd, notify)
	}
	if err != nil {
		q.close()
		return nil, err
	}
	r.disp = d
	return r, nil
}

func (r *reader) Read() ([]byte, bool, error) {
	q := r.q
	if q.closed.Load() {
		return nil, false, sdkerrors.ErrTransportClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.kind == transport.KindBuffer {
		return q.receive()
	}

	var last []byte
	var got bool
	for {
		msg, ok, err := q.receive()
		if err != nil {
			return last, got, err
		}
		if !ok {
			return last, got, nil
		}
		last, got = msg, true
	}
}

func (r *reader) Close() error {
	if r.disp != nil {
		r.disp.remove(r.q.fd)
	}
	return r.q.close()
}

func (p *Protocol) dispatcher() (*dispatcher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disp != nil {
		return p.disp, nil
	}
	d, err := newDispatcher(p.logger)
	if err != nil {
		return nil, err
	}
	p.disp = d
	return d, nil
}

// dispatcher waits on an edge-triggered epoll set of reader descriptors and
// calls the reader's notify function for each readiness edge. An eventfd in
// the set stops the loop.
type dispatcher struct {
	epfd   int
	wakefd int
	task   *rtos.Task
	logger *zap.Logger

	mu     sync.Mutex
	notify map[int32]func()
	closed bool
}

func newDispatcher(logger *zap.Logger) (*dispatcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, sdkerrors.NewResourceError("failed to create epoll instance", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, sdkerrors.NewResourceError("failed to create eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, sdkerrors.NewResourceError("failed to watch eventfd", err)
	}

	d := &dispatcher{
		epfd:   epfd,
		wakefd: wakefd,
		logger: logger,
		notify: make(map[int32]func()),
	}
	d.task, err = rtos.Create(rtos.TaskOptions{Name: "mqueue-dispatch", Logger: logger}, d.run)
	if err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return d, nil
}

func (d *dispatcher) run(*rtos.Task) {
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(d.epfd, events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			d.logger.Error("Message queue dispatcher stopped", zap.Error(err))
			return
		}
		for _, ev := range events[:n] {
			if int(ev.Fd) == d.wakefd {
				return
			}
			d.mu.Lock()
			fn := d.notify[ev.Fd]
			d.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	}
}

func (d *dispatcher) add(fd int, notify func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return sdkerrors.ErrTransportClosed
	}
	d.notify[int32(fd)] = notify
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(d.notify, int32(fd))
		return sdkerrors.NewTransportError("failed to watch message queue", err)
	}
	return nil
}

func (d *dispatcher) remove(fd int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.notify[int32(fd)]; !ok || d.closed {
		return
	}
	delete(d.notify, int32(fd))
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		d.logger.Warn("Failed to unwatch message queue", zap.Int("fd", fd), zap.Error(err))
	}
}

func (d *dispatcher) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(d.wakefd, one[:]); err != nil {
		return sdkerrors.NewResourceError("failed to wake dispatcher", err)
	}
	err := d.task.Delete()
	unix.Close(d.wakefd)
	unix.Close(d.epfd)
	return err
}
