package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/netsim"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
)

const receiverPort = 5004

// renderTarget is the receive side of one track in an interactive call
type renderTarget struct {
	track     *track
	assembler *frameAssembler
	stats     *models.RendererStats
	ivf       *ivfWriter
}

// interactiveCall wires a sender and a receiver over a virtual network
type interactiveCall struct {
	fixture  *LoopbackFixture
	scenario config.TestScenario
	codec    codecInfo
	tracks   []*track
	log      *slog.Logger

	loopback *netsim.Loopback
	sendConn net.PacketConn
	recvConn net.PacketConn
	pipeline *sendPipeline
	events   *eventLog
	targets  map[uint32]*renderTarget

	writeMu sync.Mutex
	dst     net.Addr

	errOnce sync.Once
	errCh   chan error
}

// RunInteractive streams the call over a virtual network in real time and
// renders received frames until ctx is done. Cancellation is the normal way
// to end it and returns nil.
func (f *LoopbackFixture) RunInteractive(ctx context.Context, s config.TestScenario) error {
	codec, err := lookupCodec(s.CodecName)
	if err != nil {
		return err
	}
	tracks, err := buildTracks(s, f.rng)
	if err != nil {
		return err
	}

	c := &interactiveCall{
		fixture:  f,
		scenario: s,
		codec:    codec,
		tracks:   tracks,
		log:      f.opts.Logger.With("component", "fixture", "mode", "interactive"),
		targets:  make(map[uint32]*renderTarget),
		errCh:    make(chan error, 1),
	}
	if err := c.open(); err != nil {
		return errors.Join(err, c.close())
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func(conn net.PacketConn) {
		defer wg.Done()
		c.receive(ctx, conn)
	}(c.recvConn)
	for _, t := range tracks {
		wg.Add(1)
		go func(t *track) {
			defer wg.Done()
			c.capture(ctx, t)
		}(t)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reportStats(ctx)
	}()

	c.log.Info("Interactive call started",
		"scenario", s.String(),
		"streams", len(tracks))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-c.errCh:
	}
	cancel()
	sockErr := c.closeSockets()
	wg.Wait()
	closeErr := errors.Join(sockErr, c.close())

	if runErr != nil {
		return runErr
	}
	c.log.Info("Interactive call ended", "frames_rendered", f.RenderedFrames())
	return closeErr
}

func (c *interactiveCall) open() error {
	f := c.fixture
	lb, err := netsim.NewLoopback(netsim.ConfigFromScenario(c.scenario), netsim.LoopbackOptions{
		LoggerFactory: f.opts.LoggerFactory,
		MTU:           f.opts.MTU,
		Rand:          f.rng,
	})
	if err != nil {
		return err
	}
	c.loopback = lb
	if err := lb.Start(); err != nil {
		return fmt.Errorf("failed to start virtual network: %w", err)
	}

	recvAddr := net.JoinHostPort(netsim.ReceiverIP, strconv.Itoa(receiverPort))
	if c.recvConn, err = lb.Receiver.ListenPacket("udp4", recvAddr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", recvAddr, err)
	}
	if c.sendConn, err = lb.Sender.ListenPacket("udp4", net.JoinHostPort(netsim.SenderIP, "0")); err != nil {
		return fmt.Errorf("failed to open sender socket: %w", err)
	}
	c.dst = &net.UDPAddr{IP: net.ParseIP(netsim.ReceiverIP), Port: receiverPort}

	if c.events, err = openEventLog(c.scenario.EventLogPath); err != nil {
		return err
	}
	if c.pipeline, err = newSendPipeline(c.scenario, c.codec, c.tracks, f.opts.MTU, f.opts.LoggerFactory, c.write); err != nil {
		return err
	}

	for _, t := range c.tracks {
		target := &renderTarget{
			track:     t,
			assembler: newFrameAssembler(c.codec),
			stats:     &models.RendererStats{Name: fmt.Sprintf("%s-%d", c.scenario.TestLabel, t.Index)},
		}
		if c.scenario.EncodedFrameBasePath != "" {
			path := ivfFileName(c.scenario.EncodedFrameBasePath, t.SSRC)
			if target.ivf, err = newIVFWriter(path, c.codec.fourcc, t.Width, t.Height); err != nil {
				return err
			}
		}
		c.targets[t.SSRC] = target
	}
	return nil
}

// closeSockets closes both ends of the call, which unblocks the receive
// loop and fails further writes
func (c *interactiveCall) closeSockets() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var errs []error
	if c.recvConn != nil {
		errs = append(errs, c.recvConn.Close())
		c.recvConn = nil
	}
	if c.sendConn != nil {
		errs = append(errs, c.sendConn.Close())
		c.sendConn = nil
	}
	return errors.Join(errs...)
}

// close releases everything open opened
func (c *interactiveCall) close() error {
	errs := []error{c.closeSockets()}
	if c.loopback != nil {
		errs = append(errs, c.loopback.Close())
	}
	if c.pipeline != nil {
		errs = append(errs, c.pipeline.Close())
	}
	for _, target := range c.targets {
		if target.ivf != nil {
			errs = append(errs, target.ivf.Close())
		}
	}
	errs = append(errs, c.events.Close())
	return errors.Join(errs...)
}

func (c *interactiveCall) fail(err error) {
	c.errOnce.Do(func() { c.errCh <- err })
}

// write is the pipeline sink: packets go straight onto the virtual network
func (c *interactiveCall) write(p outboundPacket) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.sendConn == nil {
		return net.ErrClosed
	}
	_, err := c.sendConn.WriteTo(p.Wire, c.dst)
	return err
}

func (c *interactiveCall) capture(ctx context.Context, t *track) {
	source := newFrameSource(t, c.codec, c.fixture.clip, c.fixture.rng)
	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()

	for {
		fr := source.Next(time.Now())
		if _, err := c.pipeline.Send(t, source.Samples(), fr.Data); err != nil {
			if ctx.Err() == nil {
				c.fail(fmt.Errorf("failed to send frame %d of stream %d: %w", fr.Index, t.Index, err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *interactiveCall) receive(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, 1<<16)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				c.fail(fmt.Errorf("receiver socket failed: %w", err))
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			c.log.Debug("Dropping malformed packet", "error", err)
			continue
		}
		target, ok := c.targets[pkt.SSRC]
		if !ok {
			// FEC streams are not rendered
			continue
		}
		ts, data, abandoned, err := target.assembler.Push(pkt)
		if err != nil {
			c.log.Debug("Failed to assemble frame", "stream", target.track.Index, "error", err)
			continue
		}
		if abandoned > 0 {
			c.events.Log(time.Now(), "frames_abandoned", map[string]any{
				"stream": target.track.Index,
				"count":  abandoned,
			})
		}
		if data == nil {
			continue
		}
		target.stats.RecordFrame(len(data), time.Now())
		c.fixture.rendered.Add(1)
		if target.ivf != nil {
			if err := target.ivf.WriteFrame(ts, data); err != nil {
				c.fail(fmt.Errorf("failed to write encoded frame: %w", err))
				return
			}
		}
	}
}

func (c *interactiveCall) reportStats(ctx context.Context) {
	interval := c.fixture.opts.StatsInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, t := range c.tracks {
				frames, bytes, last := c.targets[t.SSRC].stats.Snapshot()
				fps := float64(frames) / interval.Seconds()
				recvKbps := kbps(bytes, interval)
				c.log.Info("Renderer stats",
					"stream", t.Index,
					"fps", fps,
					"received_kbps", recvKbps,
					"since_last_frame", sinceLast(now, last))
				c.events.Log(now, "renderer_stats", map[string]any{
					"stream":        t.Index,
					"frames":        frames,
					"received_kbps": recvKbps,
				})
			}
			if dropped := c.loopback.Dropped(); dropped > 0 {
				c.log.Debug("Network losses", "dropped_packets", dropped)
			}
		}
	}
}

func sinceLast(now, last time.Time) time.Duration {
	if last.IsZero() {
		return 0
	}
	return now.Sub(last).Round(time.Millisecond)
}
