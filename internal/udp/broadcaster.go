package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"pinger-sim/internal/pinger"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Envelope is the JSON datagram carrying one measurement.
type Envelope struct {
	Session   string  `json:"session,omitempty"`
	Topic     string  `json:"topic"`
	Seq       uint64  `json:"seq"`
	StampSec  float64 `json:"stamp_sec"`
	FrameID   string  `json:"frame_id"`
	Range     float64 `json:"range"`
	Bearing   float64 `json:"bearing"`
	Elevation float64 `json:"elevation"`
}

func NewEnvelope(session, topic string, m pinger.Measurement) Envelope {
	return Envelope{
		Session:   session,
		Topic:     topic,
		Seq:       m.Seq,
		StampSec:  m.Stamp.Seconds(),
		FrameID:   m.FrameID,
		Range:     m.Range,
		Bearing:   m.Bearing,
		Elevation: m.Elevation,
	}
}

// Broadcaster publishes measurements as JSON datagrams to a fixed destination.
type Broadcaster struct {
	dest    string
	conn    udpConn
	Session string
	Topic   string
}

// NewBroadcaster dials dest. With broadcast set the socket gets SO_BROADCAST
// so that subnet broadcast addresses are writable.
func NewBroadcaster(dest string, broadcast bool) (*Broadcaster, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	if broadcast {
		dial = func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
			d := net.Dialer{Control: broadcastControl}
			c, err := d.Dial(network, raddr.String())
			if err != nil {
				return nil, err
			}
			return c.(*net.UDPConn), nil
		}
	}
	return newBroadcaster(dest, net.ResolveUDPAddr, dial)
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// Dial selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
	}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Publish implements pinger.Publisher.
func (b *Broadcaster) Publish(_ context.Context, m pinger.Measurement) error {
	payload, err := json.Marshal(NewEnvelope(b.Session, b.Topic, m))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.Send(payload)
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
