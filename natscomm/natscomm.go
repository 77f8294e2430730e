// Package natscomm runs ranks as separate processes that reduce through a
// NATS server. Each rank is started with its rank, the group size and a
// run id shared by the whole group.
package natscomm

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sbromberger/mcpi/tally"
)

const (
	root = 0

	DefaultRun          = "default"
	DefaultRetryWait    = 100 * time.Millisecond
	DefaultRequestLimit = 2 * time.Second
)

var (
	// ErrRank is returned for a rank outside [0, size).
	ErrRank = errors.New("natscomm: rank out of range")
	// ErrReduced is returned when a rank joins the reduction twice.
	ErrReduced = errors.New("natscomm: reduction already performed")
	// ErrProtocol is returned for an unexpected message.
	ErrProtocol = errors.New("natscomm: unexpected message")
	// ErrRejected is returned to a rank whose partial the root refused.
	ErrRejected = errors.New("natscomm: partial rejected by root")
)

type MsgType uint8

const (
	MsgPartial MsgType = iota // worker count, to root
	MsgAck                    // root has the partial
	MsgDone                   // global count, from root
	MsgReject                 // root refused the partial
)

// Message is the unit of communication between ranks.
type Message struct {
	Type  MsgType
	Rank  int
	Count uint64
}

func encode(m Message) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(m); err != nil {
		return nil, fmt.Errorf("natscomm: encode: %w", err)
	}
	return b.Bytes(), nil
}

func decode(data []byte) (Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return m, fmt.Errorf("natscomm: decode: %w", err)
	}
	return m, nil
}

// Options describe how a rank joins a group.
type Options struct {
	URL  string // NATS server, nats.DefaultURL if empty
	Run  string // isolates concurrent groups on one server
	Rank int
	Size int

	// RetryWait is the pause before redelivering a partial that found
	// no root listening. RequestLimit bounds the wait for each ack.
	RetryWait    time.Duration
	RequestLimit time.Duration
}

// Comm is one rank's connection to the group.
type Comm struct {
	nc   *nats.Conn
	opts Options

	// root only
	sub    *nats.Subscription
	tally  *tally.Tally
	notify chan struct{}
	mu     sync.Mutex
	failed error

	msgsSent, msgsRecv uint64 // do not access these directly; they're atomics.
	reduced            atomic.Bool
}

// Dial connects rank opts.Rank to the server. The root starts listening
// for partials immediately, so partials sent before it reduces are kept.
func Dial(opts Options) (*Comm, error) {
	if opts.Size < 1 || opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, fmt.Errorf("%w: rank %d, size %d", ErrRank, opts.Rank, opts.Size)
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Run == "" {
		opts.Run = DefaultRun
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = DefaultRequestLimit
	}

	nc, err := nats.Connect(opts.URL, nats.Name(fmt.Sprintf("mcpi-%s-%d", opts.Run, opts.Rank)))
	if err != nil {
		return nil, fmt.Errorf("natscomm: connect %s: %w", opts.URL, err)
	}
	c := &Comm{nc: nc, opts: opts}
	if opts.Rank != root {
		return c, nil
	}

	c.tally = tally.New(opts.Size)
	c.notify = make(chan struct{}, 1)
	c.sub, err = nc.Subscribe(c.subject("partial"), c.recv)
	if err == nil {
		err = nc.Flush()
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natscomm: subscribe: %w", err)
	}
	return c, nil
}

func (c *Comm) subject(kind string) string {
	return "mcpi." + c.opts.Run + "." + kind
}

func (c *Comm) Rank() int { return c.opts.Rank }
func (c *Comm) Size() int { return c.opts.Size }

// recv records a partial in the root's tally and only then acknowledges
// it, so an acknowledged partial is never lost.
func (c *Comm) recv(msg *nats.Msg) {
	m, err := decode(msg.Data)
	if err != nil || m.Type != MsgPartial {
		slog.Debug("natscomm: dropped message", "subject", msg.Subject, "err", err, "type", m.Type)
		return
	}
	atomic.AddUint64(&c.msgsRecv, 1)

	reply := MsgAck
	if err := c.record(m); err != nil {
		reply = MsgReject
		c.fail(err)
	}
	data, err := encode(Message{Type: reply, Rank: root})
	if err == nil {
		err = msg.Respond(data)
	}
	if err != nil {
		slog.Debug("natscomm: reply failed", "rank", m.Rank, "err", err)
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// record adds a partial to the tally. A redelivered partial with the
// count already recorded is accepted again; a different count is not.
func (c *Comm) record(m Message) error {
	if m.Rank == root {
		return fmt.Errorf("%w: partial claims rank %d", ErrProtocol, root)
	}
	err := c.tally.Add(m.Rank, m.Count)
	if !errors.Is(err, tally.ErrDuplicate) {
		return err
	}
	prev, _ := c.tally.Get(m.Rank)
	if prev != m.Count {
		return fmt.Errorf("%w: count %d, had %d", err, m.Count, prev)
	}
	slog.Debug("natscomm: redelivered partial", "rank", m.Rank, "count", m.Count)
	return nil
}

// fail keeps the first error seen by the root's handler.
func (c *Comm) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = err
	}
}

func (c *Comm) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// ReduceSum sends local to the root and waits for the root to announce
// the global count. The root gets the sum; every other rank gets 0.
func (c *Comm) ReduceSum(ctx context.Context, local uint64) (uint64, error) {
	if !c.reduced.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: rank %d", ErrReduced, c.Rank())
	}
	if c.Rank() == root {
		return c.gather(ctx, local)
	}

	done := make(chan Message, 1)
	sub, err := c.nc.Subscribe(c.subject("done"), func(msg *nats.Msg) {
		m, err := decode(msg.Data)
		if err != nil || m.Type != MsgDone {
			slog.Debug("natscomm: dropped message", "subject", msg.Subject, "err", err)
			return
		}
		atomic.AddUint64(&c.msgsRecv, 1)
		select {
		case done <- m:
		default:
		}
	})
	if err != nil {
		return 0, fmt.Errorf("natscomm: subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	if err := c.nc.Flush(); err != nil {
		return 0, fmt.Errorf("natscomm: flush: %w", err)
	}

	if err := c.deliver(ctx, Message{Type: MsgPartial, Rank: c.Rank(), Count: local}); err != nil {
		return 0, err
	}
	select {
	case m := <-done:
		slog.Debug("natscomm: reduction complete", "rank", c.Rank(), "global", m.Count)
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// deliver sends a partial to the root until the root acknowledges it.
// The root may not have subscribed yet, in which case the request finds
// no responders and is sent again after RetryWait.
func (c *Comm) deliver(ctx context.Context, m Message) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	for {
		reply, err := c.nc.Request(c.subject("partial"), data, c.opts.RequestLimit)
		switch {
		case err == nil:
			atomic.AddUint64(&c.msgsSent, 1)
			ack, err := decode(reply.Data)
			if err != nil {
				return err
			}
			switch ack.Type {
			case MsgAck:
				return nil
			case MsgReject:
				return fmt.Errorf("%w: rank %d", ErrRejected, c.Rank())
			default:
				return fmt.Errorf("%w: type %d in reply to partial", ErrProtocol, ack.Type)
			}
		case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout):
			slog.Debug("natscomm: root not listening", "rank", c.Rank(), "err", err)
		default:
			return fmt.Errorf("natscomm: send partial: %w", err)
		}
		select {
		case <-time.After(c.opts.RetryWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// gather waits until every rank's partial is in the tally and announces
// the sum. Partials recorded while the root was still sampling count.
func (c *Comm) gather(ctx context.Context, local uint64) (uint64, error) {
	if err := c.tally.Add(root, local); err != nil {
		return 0, err
	}
	for {
		if err := c.failure(); err != nil {
			return 0, err
		}
		if c.tally.Complete() {
			break
		}
		select {
		case <-c.notify:
			slog.Debug("natscomm: contribution", "have", c.tally.Len())
		case <-ctx.Done():
			return 0, fmt.Errorf("natscomm: waiting for ranks %v: %w", c.tally.Missing(), ctx.Err())
		}
	}

	sum := c.tally.Sum()
	data, err := encode(Message{Type: MsgDone, Rank: root, Count: sum})
	if err != nil {
		return 0, err
	}
	if err := c.nc.Publish(c.subject("done"), data); err != nil {
		return 0, fmt.Errorf("natscomm: announce: %w", err)
	}
	if err := c.nc.Flush(); err != nil {
		return 0, fmt.Errorf("natscomm: flush: %w", err)
	}
	atomic.AddUint64(&c.msgsSent, 1)
	return sum, nil
}

// MsgCount returns the number of messages sent and received locally.
func (c *Comm) MsgCount() (uint64, uint64) {
	return atomic.LoadUint64(&c.msgsSent), atomic.LoadUint64(&c.msgsRecv)
}

// Close flushes pending messages and disconnects.
func (c *Comm) Close() error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			slog.Debug("natscomm: unsubscribe", "err", err)
		}
	}
	err := c.nc.Flush()
	c.nc.Close()
	return err
}
