package netsim

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

const (
	loopbackCIDR = "10.10.0.0/24"
	SenderIP     = "10.10.0.2"
	ReceiverIP   = "10.10.0.3"
)

// LoopbackOptions configures NewLoopback
type LoopbackOptions struct {
	LoggerFactory logging.LoggerFactory
	MTU           int
	Rand          *utils.RandSource
}

// Loopback is a virtual network with a sender and a receiver host. Packets
// crossing it get the impairments of the link configuration.
type Loopback struct {
	Router   *vnet.Router
	Sender   *vnet.Net
	Receiver *vnet.Net

	queue   *vnet.Queue
	dropped atomic.Int64
}

// NewLoopback builds the virtual network. Call Start before dialing.
func NewLoopback(cfg Config, opts LoopbackOptions) (*Loopback, error) {
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if opts.MTU <= 0 {
		opts.MTU = 1500
	}
	if opts.Rand == nil {
		opts.Rand = utils.NewRandSource(0)
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          loopbackCIDR,
		QueueSize:     queueSize(cfg),
		MinDelay:      cfg.AvgDelay,
		MaxJitter:     cfg.StdDelay,
		LoggerFactory: opts.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	sender, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{SenderIP}})
	if err != nil {
		return nil, fmt.Errorf("failed to create sender net: %w", err)
	}
	receiver, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ReceiverIP}})
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver net: %w", err)
	}

	lb := &Loopback{Router: router, Sender: sender, Receiver: receiver}

	if err := router.AddNet(sender); err != nil {
		return nil, fmt.Errorf("failed to attach sender: %w", err)
	}

	// The capacity limit sits in front of the receiver.
	var receiverNIC vnet.NIC = receiver
	if cfg.CapacityKbps > 0 {
		queueBytes := int64(math.MaxInt32)
		if cfg.QueueLengthPackets > 0 {
			queueBytes = int64(cfg.QueueLengthPackets * opts.MTU)
		}
		tbf := vnet.NewTBFQueue(cfg.CapacityKbps*1000, opts.MTU, queueBytes)
		lb.queue, err = vnet.NewQueue(receiver, tbf)
		if err != nil {
			return nil, fmt.Errorf("failed to create link queue: %w", err)
		}
		receiverNIC = lb.queue
	}
	if err := router.AddNet(receiverNIC); err != nil {
		return nil, fmt.Errorf("failed to attach receiver: %w", err)
	}

	loss := NewLossModel(cfg.LossPercent, cfg.AvgBurstLossLength, opts.Rand)
	router.AddChunkFilter(func(c vnet.Chunk) bool {
		if !isToReceiver(c) {
			return true
		}
		if loss.Drop() {
			lb.dropped.Add(1)
			return false
		}
		return true
	})

	return lb, nil
}

// Start starts routing
func (lb *Loopback) Start() error {
	return lb.Router.Start()
}

// Dropped returns how many packets the loss model discarded
func (lb *Loopback) Dropped() int64 {
	return lb.dropped.Load()
}

// Close stops routing and releases the link queue
func (lb *Loopback) Close() error {
	var errs []error
	if err := lb.Router.Stop(); err != nil {
		errs = append(errs, err)
	}
	if lb.queue != nil {
		if err := lb.queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isToReceiver(c vnet.Chunk) bool {
	addr, ok := c.DestinationAddr().(*net.UDPAddr)
	return ok && addr.IP.Equal(net.ParseIP(ReceiverIP))
}

func queueSize(cfg Config) int {
	if cfg.QueueLengthPackets > 0 && cfg.CapacityKbps <= 0 {
		return cfg.QueueLengthPackets
	}
	return 0
}
