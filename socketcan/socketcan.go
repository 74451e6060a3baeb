package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"

	j1939 "github.com/aldas/go-j1939-client"
	"golang.org/x/sys/unix"
)

const canRaw = 1

// frameSize is size of the fixed part of the kernel can_frame struct:
// 4 bytes CAN id, 1 byte DLC, 3 bytes padding, 8 bytes data.
const frameSize = 16

// Transceiver implements j1939.Transceiver on top of a SocketCAN raw socket.
//
// SocketCAN interfaces are configured (bitrate, up/down) through netlink by
// the host system, typically `ip link set can0 up type can bitrate 500000`,
// so Reset, SetBitrate and SetNormalMode only validate that the socket is
// usable. Received frames queue in the kernel; ClearRXInterrupts has nothing
// to acknowledge.
type Transceiver struct {
	socketFD int
	ifName   string
}

// NewTransceiver opens a raw CAN socket bound to the named interface. For
// example: can0
func NewTransceiver(ifName string) (*Transceiver, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("bad ifName: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("could not bind CAN socket: %w", err)
	}

	if err = unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("could not set CAN socket non-blocking: %w", err)
	}

	return &Transceiver{socketFD: fd, ifName: ifName}, nil
}

func (t *Transceiver) Close() error {
	return unix.Close(t.socketFD)
}

// Reset has no register level state to clear on SocketCAN.
func (t *Transceiver) Reset() error { return nil }

// SetBitrate is a no-op; the bitrate belongs to the interface configuration
// done over netlink by the host system.
func (t *Transceiver) SetBitrate(uint32) error { return nil }

// SetNormalMode is a no-op; a bound raw socket is already on the bus.
func (t *Transceiver) SetNormalMode() error { return nil }

// ClearRXInterrupts has nothing to acknowledge; the kernel queues frames.
func (t *Transceiver) ClearRXInterrupts() {}

// CheckReceive reports whether the socket has at least one frame queued.
func (t *Transceiver) CheckReceive() bool {
	fds := []unix.PollFd{{Fd: int32(t.socketFD), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

func isContinuableSocketErr(err error) bool {
	// EWOULDBLOCK - non-blocking socket had nothing to read or no buffer
	// space to write.
	// EINTR - a signal occurred during the operation; retry on next tick.
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR)
}

// ReadFrame pops the next queued frame. Remote transmission request and error
// message frames are surfaced as errors.
func (t *Transceiver) ReadFrame() (j1939.CANFrame, error) {
	buf := make([]byte, frameSize)
	_, err := unix.Read(t.socketFD, buf)
	if err != nil {
		if isContinuableSocketErr(err) {
			return j1939.CANFrame{}, j1939.ErrNoFrame
		}
		return j1939.CANFrame{}, err
	}
	return unmarshalFrame(buf)
}

// SendFrame writes one frame to the socket.
func (t *Transceiver) SendFrame(frame j1939.CANFrame) error {
	_, err := unix.Write(t.socketFD, marshalFrame(frame))
	if isContinuableSocketErr(err) {
		return errors.New("write would block")
	}
	return err
}

// marshalFrame packs frame into the kernel can_frame layout.
// See: https://github.com/linux-can/can-utils/blob/affdc1b79973c7497bb8607603c24734e11a91aa/include/linux/can.h#L107
func marshalFrame(frame j1939.CANFrame) []byte {
	buf := make([]byte, frameSize)
	// FIXME: for big-endian arch (mips64, ppc64) we should use big-endian
	binary.LittleEndian.PutUint32(buf[0:4], frame.ID)
	buf[4] = frame.Length
	copy(buf[8:], frame.Data[:frame.Length])
	return buf
}

func unmarshalFrame(buf []byte) (j1939.CANFrame, error) {
	canID := binary.LittleEndian.Uint32(buf[0:4])
	if canID&j1939.CANRTRFlag != 0 {
		return j1939.CANFrame{}, errors.New("read CAN remote transmission request frame")
	} else if canID&j1939.CANERRFlag != 0 {
		return j1939.CANFrame{}, errors.New("read CAN error message frame")
	}

	frame := j1939.CANFrame{
		ID:     canID,
		Length: buf[4],
	}
	copy(frame.Data[:], buf[8:8+frame.Length])
	return frame, nil
}
