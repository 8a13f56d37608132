package netcore

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/example/x86kernel/internal/kerrno"
)

// Driver is the minimal contract net_transmit_frame needs from the device
// backing an interface: enqueue a frame and kick the hardware.
type Driver interface {
	Transmit(frame []byte) error
}

// Interface is one network interface, spec §4.12: a MAC, an (optionally
// unset) IP, a neighbor cache, and a transmit path through a rate-limited
// simulated NIC.
type Interface struct {
	mu      sync.Mutex
	MAC     MAC
	IP      IPv4
	Neigh   NeighborCache
	driver  Driver
	rxQueue *RXQueue

	// txLimiter paces the simulated NIC's transmit ring the way the
	// teacher's internal/ratelimit paces GCS calls, modeling finite TX
	// bandwidth instead of an unbounded instantaneous send.
	txLimiter *rate.Limiter
}

// NewInterface builds an interface with a transmit rate of framesPerSecond
// (burst 1, a single in-flight frame at a time — matching a NIC with one
// active transmit descriptor).
func NewInterface(mac MAC, driver Driver, rxQueue *RXQueue, framesPerSecond rate.Limit) *Interface {
	return &Interface{
		MAC:       mac,
		driver:    driver,
		rxQueue:   rxQueue,
		txLimiter: rate.NewLimiter(framesPerSecond, 1),
	}
}

func (ifc *Interface) SetIP(ip IPv4) {
	ifc.mu.Lock()
	ifc.IP = ip
	ifc.mu.Unlock()
}

func (ifc *Interface) currentIP() IPv4 {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	return ifc.IP
}

// Transmit pads frame to the Ethernet minimum and hands it to the driver
// after waiting for a transmit-rate token, spec §4.12's "pads to 60 bytes
// minimum; enqueues and kicks the driver".
func (ifc *Interface) Transmit(ctx context.Context, frame []byte) error {
	if err := ifc.txLimiter.Wait(ctx); err != nil {
		return kerrno.Wrap("netcore.Transmit", kerrno.EAGAIN)
	}
	return ifc.driver.Transmit(padToMinimum(frame))
}

// ReceiveDriverFrame is net_receive_driver_frame: the state machine spec
// §4.12 describes for handling one inbound frame. ctx bounds any reply
// transmit the handler issues (ARP reply, ICMP echo reply).
func (ifc *Interface) ReceiveDriverFrame(ctx context.Context, nbuf *NetBuf) error {
	defer func() {
		if nbuf.Recycle != nil {
			nbuf.Recycle()
		}
	}()

	eth, err := parseEthHeader(nbuf.Data)
	if err != nil {
		return nil // malformed: recycle and move on
	}

	switch eth.Type {
	case ethTypeARP:
		return ifc.handleARP(ctx, eth, nbuf.Data[ethHeaderLen:])
	case ethTypeIPv4:
		return ifc.handleIPv4(ctx, nbuf, eth, nbuf.Data[ethHeaderLen:])
	default:
		return nil // other: recycle
	}
}

func (ifc *Interface) handleARP(ctx context.Context, eth EthHeader, body []byte) error {
	pkt, err := parseARP(body)
	if err != nil {
		return nil
	}

	if pkt.SenderIP != (IPv4{}) {
		ifc.Neigh.Learn(pkt.SenderIP, pkt.SenderMAC)
	}

	if pkt.Op == arpOpRequest && pkt.TargetIP == ifc.currentIP() {
		reply := make([]byte, ethHeaderLen+arpLen)
		putEthHeader(reply, EthHeader{Dst: pkt.SenderMAC, Src: ifc.MAC, Type: ethTypeARP})
		putARP(reply[ethHeaderLen:], ARPPacket{
			Op:        arpOpReply,
			SenderMAC: ifc.MAC,
			SenderIP:  ifc.currentIP(),
			TargetMAC: pkt.SenderMAC,
			TargetIP:  pkt.SenderIP,
		})
		return ifc.Transmit(ctx, reply)
	}
	return nil
}

func (ifc *Interface) handleIPv4(ctx context.Context, nbuf *NetBuf, eth EthHeader, body []byte) error {
	ip, err := parseIPv4Header(body)
	if err != nil {
		return nil
	}
	payload := body[ipv4HeaderLen:]

	switch ip.Proto {
	case protoICMP:
		return ifc.handleICMPEcho(ctx, eth, ip, payload)
	case protoUDP:
		return ifc.handleUDP(nbuf, ip, payload)
	default:
		return nil
	}
}

func (ifc *Interface) handleICMPEcho(ctx context.Context, eth EthHeader, ip IPv4Header, body []byte) error {
	icmp, err := parseICMPHeader(body)
	if err != nil || icmp.Type != icmpEchoRequest {
		return nil
	}
	echoPayload := body[icmpHeaderLen:]

	frame := make([]byte, ethHeaderLen+ipv4HeaderLen+icmpHeaderLen+len(echoPayload))
	putEthHeader(frame, EthHeader{Dst: eth.Src, Src: ifc.MAC, Type: ethTypeIPv4})
	putICMPHeader(frame[ethHeaderLen+ipv4HeaderLen:], ICMPHeader{Type: icmpEchoReply, ID: icmp.ID, Seq: icmp.Seq}, echoPayload)
	putIPv4Header(frame[ethHeaderLen:], IPv4Header{
		TotalLen: uint16(ipv4HeaderLen + icmpHeaderLen + len(echoPayload)),
		TTL:      64,
		Proto:    protoICMP,
		Src:      ifc.currentIP(),
		Dst:      ip.Src,
	})
	return ifc.Transmit(ctx, frame)
}

func (ifc *Interface) handleUDP(nbuf *NetBuf, ip IPv4Header, body []byte) error {
	udp, err := parseUDPHeader(body)
	if err != nil {
		return nil
	}
	payload := body[udpHeaderLen:udp.Length]
	ifc.rxQueue.enqueue(udp4Datagram{
		buf:     nbuf,
		recycle: nbuf.Recycle,
		srcIP:   ip.Src,
		srcPort: udp.SrcPort,
		dstPort: udp.DstPort,
		payload: payload,
	})
	nbuf.Recycle = nil // ownership passed to the RX queue; the consumer recycles
	return nil
}
