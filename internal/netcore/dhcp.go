package netcore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/example/x86kernel/internal/kerrno"
)

// DHCP message layout, RFC 2131 fixed header plus the options we emit and
// parse: magic cookie, message-type option, and (for ACK) the offered
// address plus server identifier.
const (
	dhcpClientPort = 68
	dhcpServerPort = 67

	dhcpOpRequest = 1
	dhcpOpReply   = 2

	dhcpMsgDiscover = 1
	dhcpMsgOffer    = 2
	dhcpMsgRequest  = 3
	dhcpMsgAck      = 5

	dhcpFixedLen  = 236 // op..chaddr padding, through the 192 bytes of BOOTP legacy fields
	dhcpCookie    = 0x63825363
	dhcpOptSubnetMask  = 1
	dhcpOptRouter      = 3
	dhcpOptDNS         = 6
	dhcpOptMsgType     = 53
	dhcpOptServerID    = 54
	dhcpOptLeaseTime   = 51
	dhcpOptEnd         = 255
)

// dhcpXID derives a 32-bit transaction ID from a random UUID, the same
// "don't hand-roll a PRNG, reuse the pack's UUID generator" approach the
// teacher uses for opaque request identifiers in its profiling/test
// harnesses, repurposed here to produce a probabilistically unique xid
// without keeping mutable counter state in the client.
func dhcpXID() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[0:4])
}

// Lease is what the DHCP client returns on a completed handshake, per spec
// §4.12's ACK step: the offered address, the server that offered it, and
// the network parameters carried in the ACK's option TLVs. DNS may list
// more than one server, per option 6's variable-length encoding.
type Lease struct {
	Address    IPv4
	Server     IPv4
	SubnetMask IPv4
	Router     IPv4
	DNS        []IPv4
	LeaseTime  time.Duration
}

// DHCPClient drives the DISCOVER -> OFFER -> REQUEST -> ACK exchange of
// spec §4.12 over an interface's transmit path and the global RX queue.
type DHCPClient struct {
	ifc *Interface
	rx  *RXQueue
}

func NewDHCPClient(ifc *Interface, rx *RXQueue) *DHCPClient {
	return &DHCPClient{ifc: ifc, rx: rx}
}

// Acquire runs one full handshake, blocking up to timeout at each of the
// two wait points (OFFER, ACK). It returns kerrno.EAGAIN wrapped if either
// wait elapses without a matching reply.
func (c *DHCPClient) Acquire(ctx context.Context, timeout time.Duration) (Lease, error) {
	xid := dhcpXID()

	if err := c.sendDiscover(ctx, xid); err != nil {
		return Lease{}, err
	}
	offer, err := c.waitFor(xid, dhcpMsgOffer, timeout)
	if err != nil {
		return Lease{}, err
	}

	if err := c.sendRequest(ctx, xid, offer.Address, offer.Server); err != nil {
		return Lease{}, err
	}
	ack, err := c.waitFor(xid, dhcpMsgAck, timeout)
	if err != nil {
		return Lease{}, err
	}

	// Spec §4.12: "On ACK: assign iface->ip_addr = yiaddr."
	c.ifc.SetIP(ack.Address)
	return ack, nil
}

func (c *DHCPClient) sendDiscover(ctx context.Context, xid uint32) error {
	body := buildDHCPMessage(xid, dhcpMsgDiscover, IPv4{}, nil)
	frame := BuildUDP4(c.ifc.MAC, BroadcastMAC, IPv4{}, dhcpClientPort, BroadcastIPv4, dhcpServerPort, body)
	return c.ifc.Transmit(ctx, frame)
}

func (c *DHCPClient) sendRequest(ctx context.Context, xid uint32, addr, server IPv4) error {
	body := buildDHCPMessage(xid, dhcpMsgRequest, addr, server[:])
	frame := BuildUDP4(c.ifc.MAC, BroadcastMAC, IPv4{}, dhcpClientPort, BroadcastIPv4, dhcpServerPort, body)
	return c.ifc.Transmit(ctx, frame)
}

func (c *DHCPClient) waitFor(xid uint32, msgType byte, timeout time.Duration) (Lease, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Lease{}, kerrno.Wrap("netcore.DHCPClient.Acquire", kerrno.EAGAIN)
		}
		res, err := c.rx.WaitUDP4(dhcpClientPort, remaining)
		if err != nil {
			return Lease{}, err
		}
		lease, gotXID, gotType, ok := parseDHCPMessage(res.Payload)
		if res.Recycle != nil {
			res.Recycle()
		}
		if ok && gotXID == xid && gotType == msgType {
			return lease, nil
		}
		// not ours: keep waiting out the remaining budget
	}
}

// buildDHCPMessage lays out the fixed BOOTP header plus the message-type
// option and, for REQUEST, the requested-address and server-identifier
// options. Fields not exercised by this client (htype, hlen, flags, siaddr,
// giaddr, sname, file) are left zero.
func buildDHCPMessage(xid uint32, msgType byte, requested IPv4, serverID []byte) []byte {
	buf := make([]byte, dhcpFixedLen+4+16)
	buf[0] = dhcpOpRequest
	binary.BigEndian.PutUint32(buf[4:8], xid)
	binary.BigEndian.PutUint32(buf[dhcpFixedLen:dhcpFixedLen+4], dhcpCookie)

	opts := buf[dhcpFixedLen+4:]
	n := 0
	opts[n], opts[n+1], opts[n+2] = dhcpOptMsgType, 1, msgType
	n += 3
	if msgType == dhcpMsgRequest {
		opts[n], opts[n+1] = 50, 4
		copy(opts[n+2:], requested[:])
		n += 6
		if len(serverID) == 4 {
			opts[n], opts[n+1] = dhcpOptServerID, 4
			copy(opts[n+2:], serverID)
			n += 6
		}
	}
	opts[n] = dhcpOptEnd
	n++
	return buf[:dhcpFixedLen+4+n]
}

// parseDHCPMessage extracts xid, message type, and (for OFFER/ACK) the
// offered address and server identifier from a DHCP payload.
func parseDHCPMessage(b []byte) (Lease, uint32, byte, bool) {
	if len(b) < dhcpFixedLen+4 {
		return Lease{}, 0, 0, false
	}
	xid := binary.BigEndian.Uint32(b[4:8])
	if binary.BigEndian.Uint32(b[dhcpFixedLen:dhcpFixedLen+4]) != dhcpCookie {
		return Lease{}, 0, 0, false
	}
	var yiaddr IPv4
	copy(yiaddr[:], b[16:20])

	var lease Lease
	lease.Address = yiaddr

	var msgType byte
	opts := b[dhcpFixedLen+4:]
	for i := 0; i < len(opts); {
		opt := opts[i]
		if opt == dhcpOptEnd {
			break
		}
		if i+1 >= len(opts) {
			break
		}
		length := int(opts[i+1])
		if i+2+length > len(opts) {
			break
		}
		val := opts[i+2 : i+2+length]
		switch opt {
		case dhcpOptMsgType:
			if length == 1 {
				msgType = val[0]
			}
		case dhcpOptServerID:
			if length == 4 {
				copy(lease.Server[:], val)
			}
		case dhcpOptSubnetMask:
			if length == 4 {
				copy(lease.SubnetMask[:], val)
			}
		case dhcpOptRouter:
			if length >= 4 {
				copy(lease.Router[:], val[:4])
			}
		case dhcpOptDNS:
			for j := 0; j+4 <= length; j += 4 {
				var dns IPv4
				copy(dns[:], val[j:j+4])
				lease.DNS = append(lease.DNS, dns)
			}
		case dhcpOptLeaseTime:
			if length == 4 {
				lease.LeaseTime = time.Duration(binary.BigEndian.Uint32(val)) * time.Second
			}
		}
		i += 2 + length
	}
	if msgType == 0 {
		return Lease{}, 0, 0, false
	}
	return lease, xid, msgType, true
}
