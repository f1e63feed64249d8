package tcpring

import (
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// hello is sent by every non-zero rank to rank 0.
type hello struct {
	Rank int
	Addr string
}

// welcome is rank 0's reply: the session ID and every
// rank's data address.
type welcome struct {
	Session string
	Addrs   []string
}

const retryInterval = 100 * time.Millisecond

// rendezvous exchanges data addresses through rank 0.
func rendezvous(ctx context.Context, opts *Options, dataAddr string, log logrus.FieldLogger) (uuid.UUID, []string, error) {
	if opts.Rank == 0 {
		return hostRendezvous(ctx, opts, dataAddr, log)
	}
	return joinRendezvous(ctx, opts, dataAddr, log)
}

func hostRendezvous(ctx context.Context, opts *Options, dataAddr string, log logrus.FieldLogger) (uuid.UUID, []string, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", opts.MasterAddr)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("listen on master address: %w", err)
	}
	defer listener.Close()
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	log.WithField("addr", opts.MasterAddr).Info("waiting for participants")

	addrs := make([]string, opts.WorldSize)
	addrs[0] = dataAddr
	conns := make([]net.Conn, opts.WorldSize)
	defer func() {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
	}()
	for joined := 1; joined < opts.WorldSize; {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return uuid.Nil, nil, ctx.Err()
			}
			return uuid.Nil, nil, fmt.Errorf("accept participant: %w", err)
		}
		var msg hello
		if err := gob.NewDecoder(conn).Decode(&msg); err != nil {
			conn.Close()
			return uuid.Nil, nil, fmt.Errorf("read hello: %w", err)
		}
		if msg.Rank <= 0 || msg.Rank >= opts.WorldSize || conns[msg.Rank] != nil {
			conn.Close()
			return uuid.Nil, nil, fmt.Errorf("unexpected rank %d at rendezvous (world size %d)",
				msg.Rank, opts.WorldSize)
		}
		conns[msg.Rank] = conn
		addrs[msg.Rank] = msg.Addr
		joined++
		log.WithFields(logrus.Fields{"peer": msg.Rank, "addr": msg.Addr}).Debug("participant joined")
	}

	session := uuid.New()
	reply := &welcome{Session: session.String(), Addrs: addrs}
	for rank, conn := range conns[1:] {
		if err := gob.NewEncoder(conn).Encode(reply); err != nil {
			return uuid.Nil, nil, fmt.Errorf("send welcome to rank %d: %w", rank+1, err)
		}
	}
	return session, addrs, nil
}

func joinRendezvous(ctx context.Context, opts *Options, dataAddr string, log logrus.FieldLogger) (uuid.UUID, []string, error) {
	conn, err := dialRetry(ctx, opts.MasterAddr)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := gob.NewEncoder(conn).Encode(&hello{Rank: opts.Rank, Addr: dataAddr}); err != nil {
		return uuid.Nil, nil, fmt.Errorf("send hello: %w", err)
	}
	log.WithField("master", opts.MasterAddr).Debug("joined rendezvous")
	var reply welcome
	if err := gob.NewDecoder(conn).Decode(&reply); err != nil {
		return uuid.Nil, nil, fmt.Errorf("read welcome: %w", err)
	}
	session, err := uuid.Parse(reply.Session)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("bad session id: %w", err)
	}
	if len(reply.Addrs) != opts.WorldSize {
		return uuid.Nil, nil, fmt.Errorf("master reported %d participants, expected %d",
			len(reply.Addrs), opts.WorldSize)
	}
	return session, reply.Addrs, nil
}

// dialRetry dials addr until it succeeds or ctx ends,
// since peers start in no particular order.
func dialRetry(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(retryInterval):
		}
	}
}

// A link header identifies the dialing side of a ring
// link: the 16-byte session ID and a big-endian rank.
const linkHeaderSize = 20

func writeLinkHeader(w io.Writer, session uuid.UUID, rank int) error {
	var header [linkHeaderSize]byte
	copy(header[:16], session[:])
	binary.BigEndian.PutUint32(header[16:], uint32(rank))
	_, err := w.Write(header[:])
	return err
}

func readLinkHeader(r io.Reader) (uuid.UUID, int, error) {
	var header [linkHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return uuid.Nil, 0, err
	}
	var session uuid.UUID
	copy(session[:], header[:16])
	return session, int(binary.BigEndian.Uint32(header[16:])), nil
}
