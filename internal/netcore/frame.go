// Package netcore implements the TCP/IP-less networking core of spec §4.12:
// Ethernet/ARP/ICMP/UDP frame handling, a per-interface neighbor cache, a
// global UDP receive queue, and a DHCP client state machine. Protocol
// mechanics are inherent domain logic no pack library supplies; library
// wiring here covers the ambient concerns around it (DHCP xid generation,
// simulated NIC transmit pacing) per DESIGN.md's C12 entry.
package netcore

import (
	"encoding/binary"

	"github.com/example/x86kernel/internal/kerrno"
)

// MAC is a 6-byte hardware address.
type MAC [6]byte

var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MAC) IsBroadcast() bool { return m == BroadcastMAC }

// IPv4 is a 4-byte address in network byte order.
type IPv4 [4]byte

var BroadcastIPv4 = IPv4{255, 255, 255, 255}

const (
	ethHeaderLen  = 14
	ethTypeARP    = 0x0806
	ethTypeIPv4   = 0x0800
	minFrameLen   = 60

	arpLen       = 28
	arpHwEther   = 1
	arpOpRequest = 1
	arpOpReply   = 2

	ipv4HeaderLen = 20
	protoICMP     = 1
	protoUDP      = 17

	icmpEchoRequest = 8
	icmpEchoReply   = 0

	udpHeaderLen = 8
)

func putMAC(b []byte, m MAC)  { copy(b, m[:]) }
func getMAC(b []byte) MAC     { var m MAC; copy(m[:], b); return m }
func putIPv4(b []byte, a IPv4) { copy(b, a[:]) }
func getIPv4(b []byte) IPv4   { var a IPv4; copy(a[:], b); return a }

// checksum16 computes the Internet one's-complement checksum over data
// (spec §4.12: "recompute IP and ICMP one's-complement checksums"). An odd
// trailing byte is padded with zero.
func checksum16(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// EthHeader is the fixed 14-byte Ethernet header.
type EthHeader struct {
	Dst, Src MAC
	Type     uint16
}

func parseEthHeader(frame []byte) (EthHeader, error) {
	if len(frame) < ethHeaderLen {
		return EthHeader{}, kerrno.Wrap("netcore.parseEthHeader", kerrno.EINVAL)
	}
	return EthHeader{
		Dst:  getMAC(frame[0:6]),
		Src:  getMAC(frame[6:12]),
		Type: binary.BigEndian.Uint16(frame[12:14]),
	}, nil
}

func putEthHeader(frame []byte, h EthHeader) {
	putMAC(frame[0:6], h.Dst)
	putMAC(frame[6:12], h.Src)
	binary.BigEndian.PutUint16(frame[12:14], h.Type)
}

// padToMinimum pads frame to the Ethernet minimum of 60 bytes, spec §4.12.
func padToMinimum(frame []byte) []byte {
	if len(frame) >= minFrameLen {
		return frame
	}
	out := make([]byte, minFrameLen)
	copy(out, frame)
	return out
}

// ARPPacket is the 28-byte Ethernet/IPv4 ARP packet body.
type ARPPacket struct {
	Op           uint16
	SenderMAC    MAC
	SenderIP     IPv4
	TargetMAC    MAC
	TargetIP     IPv4
}

func parseARP(body []byte) (ARPPacket, error) {
	if len(body) < arpLen {
		return ARPPacket{}, kerrno.Wrap("netcore.parseARP", kerrno.EINVAL)
	}
	return ARPPacket{
		Op:        binary.BigEndian.Uint16(body[6:8]),
		SenderMAC: getMAC(body[8:14]),
		SenderIP:  getIPv4(body[14:18]),
		TargetMAC: getMAC(body[18:24]),
		TargetIP:  getIPv4(body[24:28]),
	}, nil
}

func putARP(body []byte, p ARPPacket) {
	binary.BigEndian.PutUint16(body[0:2], arpHwEther)
	binary.BigEndian.PutUint16(body[2:4], ethTypeIPv4)
	body[4] = 6
	body[5] = 4
	binary.BigEndian.PutUint16(body[6:8], p.Op)
	putMAC(body[8:14], p.SenderMAC)
	putIPv4(body[14:18], p.SenderIP)
	putMAC(body[18:24], p.TargetMAC)
	putIPv4(body[24:28], p.TargetIP)
}

// IPv4Header is the fixed 20-byte IPv4 header (no options), spec §4.12.
type IPv4Header struct {
	TotalLen uint16
	ID       uint16
	TTL      uint8
	Proto    uint8
	Checksum uint16
	Src, Dst IPv4
}

func parseIPv4Header(b []byte) (IPv4Header, error) {
	if len(b) < ipv4HeaderLen {
		return IPv4Header{}, kerrno.Wrap("netcore.parseIPv4Header", kerrno.EINVAL)
	}
	return IPv4Header{
		TotalLen: binary.BigEndian.Uint16(b[2:4]),
		ID:       binary.BigEndian.Uint16(b[4:6]),
		TTL:      b[8],
		Proto:    b[9],
		Checksum: binary.BigEndian.Uint16(b[10:12]),
		Src:      getIPv4(b[12:16]),
		Dst:      getIPv4(b[16:20]),
	}, nil
}

func putIPv4Header(b []byte, h IPv4Header) {
	b[0] = 0x45 // version 4, IHL 5
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], 0)
	b[8] = h.TTL
	b[9] = h.Proto
	binary.BigEndian.PutUint16(b[10:12], 0)
	putIPv4(b[12:16], h.Src)
	putIPv4(b[16:20], h.Dst)
	binary.BigEndian.PutUint16(b[10:12], checksum16(b[0:ipv4HeaderLen]))
}

// ICMPHeader is the 8-byte ICMP echo header.
type ICMPHeader struct {
	Type, Code uint8
	ID, Seq    uint16
}

const icmpHeaderLen = 8

func parseICMPHeader(b []byte) (ICMPHeader, error) {
	if len(b) < icmpHeaderLen {
		return ICMPHeader{}, kerrno.Wrap("netcore.parseICMPHeader", kerrno.EINVAL)
	}
	return ICMPHeader{
		Type: b[0],
		Code: b[1],
		ID:   binary.BigEndian.Uint16(b[4:6]),
		Seq:  binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

func putICMPHeader(b []byte, h ICMPHeader, payload []byte) {
	b[0] = h.Type
	b[1] = h.Code
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.Seq)
	copy(b[icmpHeaderLen:], payload)
	binary.BigEndian.PutUint16(b[2:4], checksum16(b[:icmpHeaderLen+len(payload)]))
}

// UDPHeader is the 8-byte UDP header.
type UDPHeader struct {
	SrcPort, DstPort uint16
	Length           uint16
}

func parseUDPHeader(b []byte) (UDPHeader, error) {
	if len(b) < udpHeaderLen {
		return UDPHeader{}, kerrno.Wrap("netcore.parseUDPHeader", kerrno.EINVAL)
	}
	return UDPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Length:  binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// putUDPHeader leaves the UDP checksum field zero, spec §4.12: "UDP
// checksum optional (left zero in current design)".
func putUDPHeader(b []byte, h UDPHeader) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], 0)
}

// BuildUDP4 is net_buf_udp4_init + net_buf_udp4_checksum fused: it lays out
// Ethernet + IPv4 + UDP headers around payload and returns the full frame,
// spec §4.12. dstMAC is resolved by the caller (neighbor cache or
// broadcast).
func BuildUDP4(srcMAC, dstMAC MAC, srcIP IPv4, srcPort uint16, dstIP IPv4, dstPort uint16, payload []byte) []byte {
	total := ethHeaderLen + ipv4HeaderLen + udpHeaderLen + len(payload)
	frame := make([]byte, total)

	putEthHeader(frame, EthHeader{Dst: dstMAC, Src: srcMAC, Type: ethTypeIPv4})

	ipStart := ethHeaderLen
	udpStart := ipStart + ipv4HeaderLen
	copy(frame[udpStart+udpHeaderLen:], payload)

	putUDPHeader(frame[udpStart:], UDPHeader{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(udpHeaderLen + len(payload)),
	})

	putIPv4Header(frame[ipStart:], IPv4Header{
		TotalLen: uint16(ipv4HeaderLen + udpHeaderLen + len(payload)),
		TTL:      64,
		Proto:    protoUDP,
		Src:      srcIP,
		Dst:      dstIP,
	})

	return padToMinimum(frame)
}
