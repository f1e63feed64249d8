// Package tcpring connects benchmark participants in
// separate processes with a ring of TCP connections.
package tcpring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/essentials"
)

// ErrClosed is returned by calls on a closed Comm.
var ErrClosed = errors.New("tcpring: communicator is closed")

// DefaultSetupTimeout bounds Dial when neither the context
// nor Options sets a limit.
const DefaultSetupTimeout = 5 * time.Minute

// Options configure Dial.
type Options struct {
	Rank      int
	WorldSize int

	// MasterAddr is the host:port where rank 0 accepts
	// rendezvous connections.
	MasterAddr string

	// ListenAddr is the local address for ring traffic.
	// Defaults to ":0".
	ListenAddr string

	// AdvertiseHost is the host other participants dial
	// to reach this one. Defaults to 127.0.0.1 when the
	// master is on loopback, otherwise the hostname.
	AdvertiseHost string

	// SetupTimeout bounds rendezvous and ring setup when
	// ctx has no deadline. Defaults to DefaultSetupTimeout.
	SetupTimeout time.Duration

	Logger logrus.FieldLogger
}

// Comm is one participant in a TCP ring.
type Comm struct {
	rank    int
	size    int
	session uuid.UUID
	log     logrus.FieldLogger

	listener net.Listener
	next     net.Conn
	prev     net.Conn

	sendScratch []byte
	recvScratch []byte
	incoming    payload.Buffer

	closed bool
}

// Dial joins the group described by opts. It returns once
// this participant is connected to both ring neighbors.
func Dial(ctx context.Context, opts Options) (*Comm, error) {
	if opts.WorldSize < 1 || opts.Rank < 0 || opts.Rank >= opts.WorldSize {
		return nil, fmt.Errorf("tcpring: rank %d out of range for world size %d",
			opts.Rank, opts.WorldSize)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"component": "tcpring", "rank": opts.Rank})
	c := &Comm{rank: opts.Rank, size: opts.WorldSize, log: log}
	if c.size == 1 {
		return c, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		timeout := opts.SetupTimeout
		if timeout == 0 {
			timeout = DefaultSetupTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.setup(ctx, &opts); err != nil {
		c.Close()
		return nil, fmt.Errorf("tcpring: %w", err)
	}
	return c, nil
}

func (c *Comm) setup(ctx context.Context, opts *Options) error {
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = ":0"
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	c.listener = listener

	host, err := advertiseHost(opts)
	if err != nil {
		return err
	}
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return err
	}
	dataAddr := net.JoinHostPort(host, port)

	session, addrs, err := rendezvous(ctx, opts, dataAddr, c.log)
	if err != nil {
		return fmt.Errorf("rendezvous: %w", err)
	}
	c.session = session
	c.log.WithField("session", session).Debug("rendezvous complete")

	nextRank := (c.rank + 1) % c.size
	next, err := dialRetry(ctx, addrs[nextRank])
	if err != nil {
		return fmt.Errorf("dial rank %d: %w", nextRank, err)
	}
	c.next = next
	if err := writeLinkHeader(next, session, c.rank); err != nil {
		return fmt.Errorf("handshake with rank %d: %w", nextRank, err)
	}

	prev, err := c.acceptPrev(ctx)
	if err != nil {
		return err
	}
	c.prev = prev
	for _, conn := range []net.Conn{c.next, c.prev} {
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
	}
	c.log.WithFields(logrus.Fields{
		"next": addrs[nextRank],
		"prev": prev.RemoteAddr().String(),
	}).Info("ring connected")
	return nil
}

// acceptPrev accepts connections until one presents the
// previous rank and the current session.
func (c *Comm) acceptPrev(ctx context.Context) (net.Conn, error) {
	prevRank := (c.rank + c.size - 1) % c.size
	stop := context.AfterFunc(ctx, func() {
		c.listener.Close()
	})
	defer stop()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("accept rank %d: %w", prevRank, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}
		session, rank, err := readLinkHeader(conn)
		conn.SetReadDeadline(time.Time{})
		if err != nil || session != c.session || rank != prevRank {
			c.log.WithFields(logrus.Fields{
				"remote": conn.RemoteAddr().String(),
				"peer":   rank,
			}).Warn("rejecting unexpected ring connection")
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func advertiseHost(opts *Options) (string, error) {
	if opts.AdvertiseHost != "" {
		return opts.AdvertiseHost, nil
	}
	masterHost, _, err := net.SplitHostPort(opts.MasterAddr)
	if err != nil {
		return "", fmt.Errorf("master address: %w", err)
	}
	if ip := net.ParseIP(masterHost); (ip != nil && ip.IsLoopback()) || masterHost == "localhost" {
		return "127.0.0.1", nil
	}
	return os.Hostname()
}

// Rank returns this participant's rank.
func (c *Comm) Rank() int {
	return c.rank
}

// WorldSize returns the number of participants.
func (c *Comm) WorldSize() int {
	return c.size
}

// Session returns the ID assigned at rendezvous. It is
// uuid.Nil for a single participant.
func (c *Comm) Session() uuid.UUID {
	return c.session
}

// AllReduce sums buf across the ring with a reduce-scatter
// followed by an all-gather. Each step sends one chunk to
// the next rank while receiving one from the previous.
func (c *Comm) AllReduce(ctx context.Context, buf payload.Buffer) (err error) {
	if c.closed {
		return ErrClosed
	}
	if c.size == 1 {
		return nil
	}
	defer c.watch(ctx, &err)()

	n := c.size
	for step := 0; step < n-1; step++ {
		send := c.chunk(buf, c.rank-step)
		recv := c.chunk(buf, c.rank-step-1)
		if err := c.exchange(send, len(recv)); err != nil {
			return essentials.AddCtx("reduce-scatter", err)
		}
		recv.AddInPlace(c.incoming[:len(recv)])
	}
	for step := 0; step < n-1; step++ {
		send := c.chunk(buf, c.rank+1-step)
		recv := c.chunk(buf, c.rank-step)
		if err := c.exchange(send, len(recv)); err != nil {
			return essentials.AddCtx("all-gather", err)
		}
		copy(recv, c.incoming)
	}
	return nil
}

// Barrier passes a token around the ring twice. The first
// pass proves every rank has arrived, the second releases
// them.
func (c *Comm) Barrier(ctx context.Context) (err error) {
	if c.closed {
		return ErrClosed
	}
	if c.size == 1 {
		return nil
	}
	defer c.watch(ctx, &err)()

	token := []byte{1}
	for pass := 0; pass < 2; pass++ {
		if c.rank == 0 {
			if _, err := c.next.Write(token); err != nil {
				return essentials.AddCtx("barrier", err)
			}
		}
		if _, err := io.ReadFull(c.prev, token); err != nil {
			return essentials.AddCtx("barrier", err)
		}
		if c.rank != 0 {
			if _, err := c.next.Write(token); err != nil {
				return essentials.AddCtx("barrier", err)
			}
		}
	}
	return nil
}

// Synchronize is a no-op since every collective has
// completed by the time it returns.
func (c *Comm) Synchronize(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close tears down both ring connections.
func (c *Comm) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	var errs []error
	for _, closer := range []io.Closer{c.next, c.prev, c.listener} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watch applies ctx to both ring connections for the
// duration of one collective.
func (c *Comm) watch(ctx context.Context, errOut *error) func() {
	deadline, _ := ctx.Deadline()
	c.next.SetDeadline(deadline)
	c.prev.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		c.next.SetDeadline(time.Now())
		c.prev.SetDeadline(time.Now())
	})
	return func() {
		stop()
		if *errOut != nil && ctx.Err() != nil {
			*errOut = fmt.Errorf("%w: %v", ctx.Err(), *errOut)
		}
	}
}

// chunk returns the i-th of WorldSize near-equal slices of
// buf. i is taken modulo WorldSize.
func (c *Comm) chunk(buf payload.Buffer, i int) payload.Buffer {
	i = ((i % c.size) + c.size) % c.size
	start := len(buf) * i / c.size
	end := len(buf) * (i + 1) / c.size
	return buf[start:end]
}

// exchange writes send to the next rank and reads
// recvLen elements from the previous rank into c.incoming.
func (c *Comm) exchange(send payload.Buffer, recvLen int) error {
	c.sendScratch = encode(c.sendScratch, send)
	if cap(c.recvScratch) < recvLen*payload.ElementSize {
		c.recvScratch = make([]byte, recvLen*payload.ElementSize)
	}
	recvBytes := c.recvScratch[:recvLen*payload.ElementSize]

	writeErr := make(chan error, 1)
	go func() {
		_, err := c.next.Write(c.sendScratch)
		writeErr <- err
	}()
	_, readErr := io.ReadFull(c.prev, recvBytes)
	if err := <-writeErr; err != nil {
		return fmt.Errorf("send to rank %d: %w", (c.rank+1)%c.size, err)
	}
	if readErr != nil {
		return fmt.Errorf("receive from rank %d: %w", (c.rank+c.size-1)%c.size, readErr)
	}
	c.incoming = decode(c.incoming, recvBytes)
	return nil
}

func encode(dst []byte, buf payload.Buffer) []byte {
	size := len(buf) * payload.ElementSize
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	for i, x := range buf {
		binary.LittleEndian.PutUint16(dst[i*payload.ElementSize:], uint16(x))
	}
	return dst
}

func decode(dst payload.Buffer, data []byte) payload.Buffer {
	n := len(data) / payload.ElementSize
	if cap(dst) < n {
		dst = make(payload.Buffer, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = payload.BF16(binary.LittleEndian.Uint16(data[i*payload.ElementSize:]))
	}
	return dst
}
