package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// A Node represents a machine (or a device on a machine)
// attached to a virtual network.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// Port creates a new Port connected to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port identifies a point of communication on a Node.
// Data is sent from Ports and received on Ports.
type Port struct {
	// The Node to which the Port is attached.
	Node *Node

	// A stream of *Message objects.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a chunk of data sent between nodes over a
// network.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the number of bytes on the wire.
	Size float64
}

// A Network represents an abstract way of communicating
// between nodes.
type Network interface {
	// Send message objects from one node to another.
	// The message will arrive on the receiving port's
	// incoming EventStream.
	//
	// This is a non-blocking operation.
	//
	// It is preferrable to pass multiple messages in at
	// once, if possible.
	// Otherwise, the Network may have to continually
	// re-plan the entire message delivery timeline.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork is a network that assigns random delays
// of up to MaxDelay to every message.
//
// Messages on the same edge may be reordered.
type RandomNetwork struct {
	MaxDelay time.Duration
}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	maxDelay := r.MaxDelay
	if maxDelay == 0 {
		maxDelay = time.Second
	}
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, time.Duration(rand.Int63n(int64(maxDelay))))
	}
}

// A SwitcherNetwork is a network where data is passed
// through a Switcher. Multiple messages along the same
// edge are sent concurrently, potentially making each one
// take longer to arrive at its destination.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher  Switcher
	nodeIndex map[*Node]int
	numNodes  int
	latency   time.Duration

	plan switchedPlan
}

// NewSwitcherNetwork creates a new SwitcherNetwork.
//
// The latency argument adds a constant delay to every
// message delivery.
// The latency period counts towards oversubscription,
// so one message's latency period may interfere with
// another message's transmission.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency time.Duration) *SwitcherNetwork {
	nodeIndex := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		nodeIndex[node] = i
	}
	return &SwitcherNetwork{
		switcher:  switcher,
		nodeIndex: nodeIndex,
		numNodes:  len(nodes),
		latency:   latency,
	}
}

// Send sends the messages over the network.
//
// This may slow down messages that are already being
// transmitted.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.stopPlan(h)
	for _, msg := range msgs {
		state = append(state, &switchedMsg{
			msg:              msg,
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.createPlan(h, state)
}

func (s *SwitcherNetwork) stopPlan(h *Handle) []*switchedMsg {
	now := h.Time()
	var currentState []*switchedMsg
	for _, step := range s.plan {
		if now >= step.endTime {
			// The timers may have fired, so we let this go.
			continue
		}
		if now >= step.startTime {
			// Interpolate in the current segment.
			elapsed := now - step.startTime
			for _, msg := range step.startState {
				currentState = append(currentState, msg.AddTime(elapsed))
			}
		}
		for _, timer := range step.timers {
			h.Cancel(timer)
		}
	}
	return currentState
}

func (s *SwitcherNetwork) computeDataRates(state []*switchedMsg) {
	// The latency period is treated as if it occupied both
	// NICs, although really only the sender is busy.
	mat := NewConnMat(s.numNodes)
	counts := NewConnMat(s.numNodes)
	for _, msg := range state {
		src, dst := s.nodeIndex[msg.msg.Source.Node], s.nodeIndex[msg.msg.Dest.Node]
		mat.Set(src, dst, 1)
		counts.Set(src, dst, counts.Get(src, dst)+1)
	}
	s.switcher.SwitchedRates(mat)
	for _, msg := range state {
		src, dst := s.nodeIndex[msg.msg.Source.Node], s.nodeIndex[msg.msg.Dest.Node]
		msg.dataRate = mat.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitcherNetwork) createPlan(h *Handle, state []*switchedMsg) {
	s.plan = make(switchedPlan, 0, len(state))
	now := h.Time()
	startTime := now
	for len(state) > 0 {
		s.computeDataRates(state)

		nextMsgs, newState, lowestETA := messagesWithLowestETA(state)

		timers := make([]*Timer, len(nextMsgs))
		for i, msg := range nextMsgs {
			timers[i] = h.Schedule(msg.msg.Dest.Incoming, msg.msg, startTime-now+lowestETA)
		}

		endTime := timers[0].Time()
		s.plan = append(s.plan, &switchedPlanSegment{
			startTime:  startTime,
			endTime:    endTime,
			timers:     timers,
			startState: state,
		})

		for i, msg := range newState {
			newState[i] = msg.AddTime(endTime - startTime)
		}
		state = newState
		startTime = endTime
	}
}

// switchedMsg encodes the state of a message that is
// being sent through the network.
type switchedMsg struct {
	msg *Message

	remainingLatency time.Duration

	// Bytes and bytes per second.
	remainingSize float64
	dataRate      float64
}

// ETA gets the time until the message is delivered.
//
// Transfer times are rounded up to whole nanoseconds so a
// message never arrives before its last byte.
func (s *switchedMsg) ETA() time.Duration {
	if s.remainingSize <= 0 {
		return s.remainingLatency
	}
	if s.dataRate <= 0 {
		panic("message has no bandwidth")
	}
	transfer := math.Ceil(s.remainingSize / s.dataRate * float64(time.Second))
	return s.remainingLatency + time.Duration(transfer)
}

// AddTime updates the message's state to reflect a
// certain amount of time elapsing.
func (s *switchedMsg) AddTime(t time.Duration) *switchedMsg {
	res := *s

	if t < res.remainingLatency {
		res.remainingLatency -= t
		return &res
	}

	t -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize = math.Max(0, res.remainingSize-res.dataRate*t.Seconds())

	return &res
}

// switchedPlanSegment represents a period of time during
// which the set of in-flight messages does not change.
//
// Each segment ends with at least one Timer, which
// notifies a node about a received message.
type switchedPlanSegment struct {
	startTime time.Duration
	endTime   time.Duration
	timers    []*Timer

	startState []*switchedMsg
}

// switchedPlan is the delivery timeline for every message
// currently on the network.
type switchedPlan []*switchedPlanSegment

func messagesWithLowestETA(msgs []*switchedMsg) (lowest, rest []*switchedMsg, lowestETA time.Duration) {
	etas := make([]time.Duration, len(msgs))
	for i, msg := range msgs {
		etas[i] = msg.ETA()
	}
	lowestETA = etas[0]
	for _, eta := range etas {
		if eta < lowestETA {
			lowestETA = eta
		}
	}

	lowest = make([]*switchedMsg, 0, 1)
	rest = make([]*switchedMsg, 0, len(msgs)-1)

	for i, msg := range msgs {
		if etas[i] == lowestETA {
			lowest = append(lowest, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	return lowest, rest, lowestETA
}
