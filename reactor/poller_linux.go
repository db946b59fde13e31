//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Level-triggered epoll(7) poller with an eventfd used to wake the loop.

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

type poller struct {
	epfd   int
	wakefd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewIOError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, api.NewIOError("eventfd", err)
	}
	p := &poller{epfd: epfd, wakefd: wakefd}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakefd, unix.EPOLLIN); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *poller) ctl(op, fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	return api.NewIOError("epoll_ctl", unix.EpollCtl(p.epfd, op, fd, ev))
}

func (p *poller) add(fd int, interest api.Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, toEpoll(interest))
}

func (p *poller) mod(fd int, interest api.Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, toEpoll(interest))
}

func (p *poller) del(fd int) error {
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

// wait blocks for at most timeoutMs milliseconds, or forever when negative.
func (p *poller) wait(events []unix.EpollEvent, timeoutMs int) (int, error) {
	return unix.EpollWait(p.epfd, events, timeoutMs)
}

func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated; a wake-up is pending anyway
		return nil
	}
	return err
}

func (p *poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *poller) close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}

func toEpoll(i api.Interest) uint32 {
	var ev uint32
	if i&(api.InterestRead|api.InterestAccept) != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&api.InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// fromEpoll translates reported events into readiness bits. Input readiness
// is reported as accept for descriptors that asked for accept.
func fromEpoll(ev uint32, registered api.Interest) api.Interest {
	var ready api.Interest
	if ev&unix.EPOLLIN != 0 {
		if registered&api.InterestAccept != 0 {
			ready |= api.InterestAccept
		} else {
			ready |= api.InterestRead
		}
	}
	if ev&unix.EPOLLOUT != 0 {
		ready |= api.InterestWrite
	}
	if ev&unix.EPOLLERR != 0 {
		ready |= api.InterestError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ready |= api.InterestHangup
	}
	return ready
}
