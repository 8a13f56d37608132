package netcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordingDriver struct {
	frames [][]byte
}

func (d *recordingDriver) Transmit(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.frames = append(d.frames, cp)
	return nil
}

func newTestInterface() (*Interface, *recordingDriver, *RXQueue) {
	drv := &recordingDriver{}
	rx := NewRXQueue()
	ifc := NewInterface(MAC{0x02, 0, 0, 0, 0, 1}, drv, rx, rate.Inf)
	ifc.SetIP(IPv4{10, 0, 0, 1})
	return ifc, drv, rx
}

func TestARPRequestForOurIPGetsReply(t *testing.T) {
	ifc, drv, _ := newTestInterface()
	peerMAC := MAC{0x02, 0, 0, 0, 0, 2}

	frame := make([]byte, ethHeaderLen+arpLen)
	putEthHeader(frame, EthHeader{Dst: BroadcastMAC, Src: peerMAC, Type: ethTypeARP})
	putARP(frame[ethHeaderLen:], ARPPacket{
		Op:        arpOpRequest,
		SenderMAC: peerMAC,
		SenderIP:  IPv4{10, 0, 0, 2},
		TargetIP:  IPv4{10, 0, 0, 1},
	})

	err := ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: frame})
	require.NoError(t, err)

	require.Len(t, drv.frames, 1)
	eth, err := parseEthHeader(drv.frames[0])
	require.NoError(t, err)
	assert.Equal(t, peerMAC, eth.Dst)
	assert.Equal(t, ethTypeARP, int(eth.Type))

	reply, err := parseARP(drv.frames[0][ethHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, uint16(arpOpReply), reply.Op)
	assert.Equal(t, IPv4{10, 0, 0, 1}, reply.SenderIP)

	mac, ok := ifc.Neigh.Resolve(IPv4{10, 0, 0, 2})
	require.True(t, ok)
	assert.Equal(t, peerMAC, mac)
}

func TestARPReplyLearnsNeighborWithoutTransmitting(t *testing.T) {
	ifc, drv, _ := newTestInterface()
	peerMAC := MAC{0x02, 0, 0, 0, 0, 3}

	frame := make([]byte, ethHeaderLen+arpLen)
	putEthHeader(frame, EthHeader{Dst: ifc.MAC, Src: peerMAC, Type: ethTypeARP})
	putARP(frame[ethHeaderLen:], ARPPacket{
		Op:        arpOpReply,
		SenderMAC: peerMAC,
		SenderIP:  IPv4{10, 0, 0, 3},
		TargetMAC: ifc.MAC,
		TargetIP:  ifc.IP,
	})

	err := ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: frame})
	require.NoError(t, err)
	assert.Empty(t, drv.frames)

	mac, ok := ifc.Neigh.Resolve(IPv4{10, 0, 0, 3})
	require.True(t, ok)
	assert.Equal(t, peerMAC, mac)
}

func TestICMPEchoRequestGetsEchoReply(t *testing.T) {
	ifc, drv, _ := newTestInterface()
	peerMAC := MAC{0x02, 0, 0, 0, 0, 4}
	payload := []byte("ping-payload")

	icmpBody := make([]byte, icmpHeaderLen+len(payload))
	putICMPHeader(icmpBody, ICMPHeader{Type: icmpEchoRequest, ID: 7, Seq: 1}, payload)

	frame := make([]byte, ethHeaderLen+ipv4HeaderLen+len(icmpBody))
	putEthHeader(frame, EthHeader{Dst: ifc.MAC, Src: peerMAC, Type: ethTypeIPv4})
	copy(frame[ethHeaderLen+ipv4HeaderLen:], icmpBody)
	putIPv4Header(frame[ethHeaderLen:], IPv4Header{
		TotalLen: uint16(ipv4HeaderLen + len(icmpBody)),
		TTL:      64,
		Proto:    protoICMP,
		Src:      IPv4{10, 0, 0, 9},
		Dst:      ifc.IP,
	})

	err := ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: frame})
	require.NoError(t, err)
	require.Len(t, drv.frames, 1)

	ip, err := parseIPv4Header(drv.frames[0][ethHeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 0, 9}, ip.Dst)
	assert.Equal(t, ifc.IP, ip.Src)

	icmp, err := parseICMPHeader(drv.frames[0][ethHeaderLen+ipv4HeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, uint8(icmpEchoReply), icmp.Type)
	assert.Equal(t, uint16(7), icmp.ID)
}

func TestUDPFrameIsEnqueuedAndRetrievable(t *testing.T) {
	ifc, _, rx := newTestInterface()
	peerMAC := MAC{0x02, 0, 0, 0, 0, 5}
	payload := []byte("datagram")

	frame := BuildUDP4(peerMAC, ifc.MAC, IPv4{10, 0, 0, 5}, 5000, ifc.IP, 9000, payload)

	done := make(chan struct{})
	var recvErr error
	go func() {
		recvErr = ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: frame})
		close(done)
	}()
	<-done
	require.NoError(t, recvErr)

	res, err := rx.WaitUDP4(9000, time.Second)
	require.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 0, 5}, res.SrcIP)
	assert.Equal(t, uint16(5000), res.SrcPort)
	assert.Equal(t, payload, res.Payload)
}

// Spec §4.12 step 3: "the consumer calls its recycle() when done." The
// netbuf's own Recycle field is cleared once ownership passes to the RX
// queue (so ReceiveDriverFrame's deferred recycle doesn't double-fire), so
// the callback must survive independently through to WaitUDP4's Result.
func TestUDPFrameRecycleCallbackReachesConsumer(t *testing.T) {
	ifc, _, rx := newTestInterface()
	peerMAC := MAC{0x02, 0, 0, 0, 0, 6}
	frame := BuildUDP4(peerMAC, ifc.MAC, IPv4{10, 0, 0, 6}, 5001, ifc.IP, 9001, []byte("hi"))

	recycled := false
	nbuf := &NetBuf{Data: frame, Recycle: func() { recycled = true }}

	done := make(chan struct{})
	go func() {
		_ = ifc.ReceiveDriverFrame(context.Background(), nbuf)
		close(done)
	}()
	<-done

	// The deferred recycle inside ReceiveDriverFrame must not have fired:
	// ownership passed to the RX queue.
	assert.False(t, recycled)

	res, err := rx.WaitUDP4(9001, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Recycle)
	res.Recycle()
	assert.True(t, recycled)
}

func TestWaitUDP4TimesOutWithNoMatchingDatagram(t *testing.T) {
	_, _, rx := newTestInterface()
	_, err := rx.WaitUDP4(1234, 20*time.Millisecond)
	assert.ErrorIs(t, err, errTimeout)
}

func TestNeighborCacheEvictsRoundRobinWhenFull(t *testing.T) {
	var c NeighborCache
	for i := 0; i < MaxNeighbors; i++ {
		c.Learn(IPv4{10, 0, byte(i >> 8), byte(i)}, MAC{0, 0, 0, 0, 0, byte(i)})
	}
	// cache is full; one more entry evicts slot 0 (the oldest)
	c.Learn(IPv4{10, 1, 0, 0}, MAC{0, 0, 0, 0, 1, 0})

	_, ok := c.Resolve(IPv4{10, 0, 0, 0})
	assert.False(t, ok, "oldest entry should have been evicted")

	mac, ok := c.Resolve(IPv4{10, 1, 0, 0})
	require.True(t, ok)
	assert.Equal(t, MAC{0, 0, 0, 0, 1, 0}, mac)
}

func TestNeighborCacheResolvesBroadcastWithoutLearning(t *testing.T) {
	var c NeighborCache
	mac, ok := c.Resolve(BroadcastIPv4)
	require.True(t, ok)
	assert.Equal(t, BroadcastMAC, mac)
}

func TestDHCPClientCompletesDiscoverOfferRequestAck(t *testing.T) {
	ifc, drv, rx := newTestInterface()
	ifc.SetIP(IPv4{}) // no address yet, matches a client acquiring one
	client := NewDHCPClient(ifc, rx)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)

		// wait for DISCOVER
		for len(drv.frames) == 0 {
			time.Sleep(time.Millisecond)
		}
		discoverEth, _ := parseEthHeader(drv.frames[0])
		_, xid, msgType, ok := parseDHCPMessage(drv.frames[0][ethHeaderLen+ipv4HeaderLen+udpHeaderLen:])
		if !ok || msgType != dhcpMsgDiscover {
			return
		}

		offered := IPv4{10, 0, 0, 42}
		server := IPv4{10, 0, 0, 1}
		offerBody := buildDHCPMessage(xid, dhcpMsgOffer, offered, server[:])
		putYiaddr(offerBody, offered)
		offerFrame := BuildUDP4(dhcpTestServerMAC, discoverEth.Src, server, dhcpServerPort, IPv4{255, 255, 255, 255}, dhcpClientPort, offerBody)
		_ = ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: offerFrame})

		for len(drv.frames) < 2 {
			time.Sleep(time.Millisecond)
		}
		_, reqXID, reqType, ok := parseDHCPMessage(drv.frames[1][ethHeaderLen+ipv4HeaderLen+udpHeaderLen:])
		if !ok || reqType != dhcpMsgRequest {
			return
		}
		ackBody := buildDHCPMessage(reqXID, dhcpMsgAck, offered, server[:])
		putYiaddr(ackBody, offered)
		ackFrame := BuildUDP4(dhcpTestServerMAC, discoverEth.Src, server, dhcpServerPort, IPv4{255, 255, 255, 255}, dhcpClientPort, ackBody)
		_ = ifc.ReceiveDriverFrame(context.Background(), &NetBuf{Data: ackFrame})
	}()

	lease, err := client.Acquire(context.Background(), 2*time.Second)
	<-serverDone
	require.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 0, 42}, lease.Address)
	assert.Equal(t, IPv4{10, 0, 0, 1}, lease.Server)

	// Spec §4.12: "On ACK: assign iface->ip_addr = yiaddr."
	assert.Equal(t, IPv4{10, 0, 0, 42}, ifc.IP)
}

var dhcpTestServerMAC = MAC{0x02, 0, 0, 0, 0, 0xee}

func putYiaddr(body []byte, addr IPv4) {
	copy(body[16:20], addr[:])
}
