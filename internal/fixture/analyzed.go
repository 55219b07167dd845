package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/rtp"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/engine"
	"github.com/GoSim-25-26J-441/loopback-harness/internal/metrics"
	"github.com/GoSim-25-26J-441/loopback-harness/internal/netsim"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/models"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

const (
	// pacingFactor is the pacer rate relative to the summed target bitrate
	pacingFactor   = 2.5
	minPacingBps   = 100_000
	minFreezeGap   = 150 * time.Millisecond
	maxLostTracked = 512
)

// frameMeta is what the receiver needs to know about a sent frame
type frameMeta struct {
	index    int64
	capture  time.Time
	keyframe bool
	temporal int
	refIndex int64
	counted  bool
}

// streamState is the sender and receiver state of one track
type streamState struct {
	track     *track
	source    *frameSource
	assembler *frameAssembler
	ivf       *ivfWriter

	frames     map[uint32]frameMeta
	inFlight   map[uint32]int // media packets per frame not yet dropped or delivered
	decoded    map[int64]bool // temporal base frames since the last keyframe
	lostMedia  map[uint16][]byte
	lastRender time.Time
	freezeGap  time.Duration

	report        models.StreamReport
	bytesRendered int64
}

type intervalCounters struct {
	sent          int64
	lost          int64
	sentBytes     int64
	receivedBytes int64
	frames        int64
}

// analyzedCall is one analyzed run. All handlers run on the engine
// goroutine, so it needs no locking.
type analyzedCall struct {
	fixture  *LoopbackFixture
	scenario config.TestScenario
	codec    codecInfo
	log      *slog.Logger

	engine    *engine.Engine
	link      *netsim.Link
	collector *metrics.Collector
	pipeline  *sendPipeline
	events    *eventLog
	streams   []*streamState

	pacingBps float64
	pacerNext time.Time
	interval  intervalCounters

	packetsReceived int64
	fecPackets      int64
	fecBytes        int64
	mediaBytes      int64
	fecRecovered    int64
}

// RunAnalyzed simulates the call for the scenario duration and reports its
// quality. Simulation time runs as fast as the host allows unless the
// fixture was built with RealTime.
func (f *LoopbackFixture) RunAnalyzed(ctx context.Context, s config.TestScenario) (*models.QualityReport, error) {
	if !s.AnalyzedRun() {
		return nil, errors.New("analyzed run needs a positive duration")
	}
	codec, err := lookupCodec(s.CodecName)
	if err != nil {
		return nil, err
	}
	tracks, err := buildTracks(s, f.rng)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runID := utils.GenerateRunID()
	c := &analyzedCall{
		fixture:   f,
		scenario:  s,
		codec:     codec,
		log:       f.opts.Logger.With("component", "fixture", "mode", "analyzed", "sim_run", runID),
		engine:    engine.NewEngine(runID, start),
		link:      netsim.NewLink(netsim.ConfigFromScenario(s), f.rng),
		collector: metrics.NewCollector(),
		pacerNext: start,
	}
	if err := c.open(tracks); err != nil {
		_ = c.close()
		return nil, err
	}

	c.engine.SetLogger(c.log)
	c.engine.SetRealTimeMode(f.opts.RealTime)
	c.engine.RegisterHandler(engine.EventTypeFrameCapture, c.handleCapture)
	c.engine.RegisterHandler(engine.EventTypePacketSend, c.handleSend)
	c.engine.RegisterHandler(engine.EventTypePacketDeliver, c.handleDeliver)
	c.engine.RegisterHandler(engine.EventTypeStatsSample, c.handleStats)
	for _, st := range c.streams {
		c.engine.ScheduleAt(engine.EventTypeFrameCapture, start, st.track.Index, nil)
	}
	c.engine.ScheduleAt(engine.EventTypeStatsSample, start.Add(f.opts.StatsInterval), -1, nil)

	c.log.Debug("Starting analyzed call",
		"scenario", s.String(),
		"streams", len(c.streams),
		"pacing_kbps", c.pacingBps/1000)

	c.collector.Start(start)
	runErr := c.engine.Run(ctx, s.Duration())
	c.collector.Stop(c.engine.GetSimTime())
	closeErr := c.close()

	rm := c.engine.GetRunManager()
	switch {
	case rm.Status() == models.RunStatusFailed:
		return nil, rm.Err()
	case ctx.Err() != nil:
		return nil, fmt.Errorf("analyzed run interrupted: %w", ctx.Err())
	case runErr != nil:
		return nil, runErr
	case closeErr != nil:
		return nil, closeErr
	}

	report := c.report()
	if s.GraphOutputPath != "" {
		if err := writeGraph(s.GraphOutputPath, s.GraphTitle, s.TestLabel, start, c.collector); err != nil {
			return nil, err
		}
	}
	c.log.Debug("Analyzed call finished",
		"frames_rendered", report.FramesRendered,
		"fec_recovered", c.fecRecovered,
		"packets_delivered", rm.Processed(engine.EventTypePacketDeliver),
		"engine", c.engine.GetStats())
	return report, nil
}

func (c *analyzedCall) open(tracks []*track) error {
	var err error
	if c.events, err = openEventLog(c.scenario.EventLogPath); err != nil {
		return err
	}
	c.pipeline, err = newSendPipeline(c.scenario, c.codec, tracks, c.fixture.opts.MTU, c.fixture.opts.LoggerFactory, c.enqueue)
	if err != nil {
		return err
	}

	var totalBps int
	for _, t := range tracks {
		st := &streamState{
			track:     t,
			source:    newFrameSource(t, c.codec, c.fixture.clip, c.fixture.rng),
			assembler: newFrameAssembler(c.codec),
			frames:    make(map[uint32]frameMeta),
			inFlight:  make(map[uint32]int),
			decoded:   make(map[int64]bool),
			lostMedia: make(map[uint16][]byte),
			freezeGap: max(3*t.Interval(), minFreezeGap),
			report: models.StreamReport{
				Index:  t.Index,
				SSRC:   t.SSRC,
				Width:  t.Width,
				Height: t.Height,
			},
		}
		if c.scenario.EncodedFrameBasePath != "" {
			path := ivfFileName(c.scenario.EncodedFrameBasePath, t.SSRC)
			if st.ivf, err = newIVFWriter(path, c.codec.fourcc, t.Width, t.Height); err != nil {
				return err
			}
		}
		c.streams = append(c.streams, st)
		totalBps += t.BitrateBps
	}
	c.pacingBps = max(pacingFactor*float64(totalBps), minPacingBps)
	return nil
}

func (c *analyzedCall) close() error {
	var errs []error
	if c.pipeline != nil {
		errs = append(errs, c.pipeline.Close())
	}
	for _, st := range c.streams {
		if st.ivf != nil {
			errs = append(errs, st.ivf.Close())
		}
	}
	errs = append(errs, c.events.Close())
	return errors.Join(errs...)
}

// fail aborts the run with err. The first failure wins.
func (c *analyzedCall) fail(err error) error {
	rm := c.engine.GetRunManager()
	if !rm.Status().Terminal() {
		rm.Fail(err)
		c.engine.Stop()
	}
	return err
}

func (c *analyzedCall) selected(temporal int) bool {
	return c.scenario.SelectedTemporalLayer < 0 || temporal <= c.scenario.SelectedTemporalLayer
}

func (c *analyzedCall) handleCapture(e *engine.Engine, ev *engine.Event) error {
	st := c.streams[ev.Stream]
	now := e.GetSimTime()
	e.ScheduleAfter(engine.EventTypeFrameCapture, st.track.Interval(), ev.Stream, nil)

	fr := st.source.Next(now)
	ts, err := c.pipeline.Send(st.track, st.source.Samples(), fr.Data)
	if err != nil {
		return c.fail(fmt.Errorf("failed to send frame %d of stream %d: %w", fr.Index, ev.Stream, err))
	}
	meta := frameMeta{
		index:    fr.Index,
		capture:  fr.Capture,
		keyframe: fr.Keyframe,
		temporal: fr.Temporal,
		refIndex: fr.RefIndex,
		counted:  c.selected(fr.Temporal),
	}
	st.frames[ts] = meta
	if meta.counted {
		st.report.FramesSent++
	}
	return nil
}

// enqueue hands a packet from the interceptor chain to the pacer
func (c *analyzedCall) enqueue(p outboundPacket) error {
	at := c.engine.GetSimTime()
	if c.pacerNext.After(at) {
		at = c.pacerNext
	}
	c.pacerNext = at.Add(time.Duration(float64(len(p.Wire)*8) / c.pacingBps * float64(time.Second)))
	c.engine.ScheduleAt(engine.EventTypePacketSend, at, p.Track.Index, p)
	if !p.FEC {
		c.streams[p.Track.Index].inFlight[p.Timestamp]++
	}
	return nil
}

func (st *streamState) landed(p outboundPacket) {
	if p.FEC {
		return
	}
	st.inFlight[p.Timestamp]--
	if st.inFlight[p.Timestamp] <= 0 {
		delete(st.inFlight, p.Timestamp)
	}
}

func (c *analyzedCall) handleSend(e *engine.Engine, ev *engine.Event) error {
	p := ev.Payload.(outboundPacket)
	st := c.streams[ev.Stream]
	now := e.GetSimTime()
	size := len(p.Wire)

	c.interval.sent++
	c.interval.sentBytes += int64(size)
	if p.FEC {
		c.fecPackets++
		c.fecBytes += int64(size)
	} else {
		c.mediaBytes += int64(size)
		st.report.PacketsSent++
	}

	d := c.link.Send(now, size)
	if !d.Dropped {
		e.ScheduleAt(engine.EventTypePacketDeliver, d.Arrival, ev.Stream, p)
		return nil
	}

	c.interval.lost++
	st.landed(p)
	if !p.FEC && c.scenario.FlexFEC {
		st.rememberLost(p.Seq, p.Wire)
	}
	c.events.Log(now, "packet_dropped", map[string]any{
		"stream": ev.Stream,
		"seq":    int(p.Seq),
		"fec":    p.FEC,
		"reason": string(d.Reason),
	})
	return nil
}

func (st *streamState) rememberLost(seq uint16, wire []byte) {
	st.lostMedia[seq] = wire
	if len(st.lostMedia) <= maxLostTracked {
		return
	}
	for old := range st.lostMedia {
		if seq-old > maxLostTracked/2 {
			delete(st.lostMedia, old)
		}
	}
}

func (c *analyzedCall) handleDeliver(e *engine.Engine, ev *engine.Event) error {
	p := ev.Payload.(outboundPacket)
	st := c.streams[ev.Stream]
	now := e.GetSimTime()

	c.packetsReceived++
	c.interval.receivedBytes += int64(len(p.Wire))
	st.landed(p)
	if p.FEC {
		return c.recover(st, p, now)
	}
	return c.receiveMedia(st, p.Wire, now)
}

// recover rebuilds a lost media packet when it is the only one missing from
// the set a FEC packet protects
func (c *analyzedCall) recover(st *streamState, p outboundPacket, now time.Time) error {
	var missing []uint16
	for _, seq := range p.Covered {
		if _, lost := st.lostMedia[seq]; lost {
			missing = append(missing, seq)
		}
	}
	if len(missing) != 1 {
		return nil
	}
	wire := st.lostMedia[missing[0]]
	delete(st.lostMedia, missing[0])
	c.fecRecovered++
	c.events.Log(now, "fec_recovered", map[string]any{
		"stream": st.track.Index,
		"seq":    int(missing[0]),
	})
	return c.receiveMedia(st, wire, now)
}

func (c *analyzedCall) receiveMedia(st *streamState, wire []byte, now time.Time) error {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(wire); err != nil {
		return fmt.Errorf("failed to parse rtp packet: %w", err)
	}
	st.report.PacketsReceived++

	ts, data, _, err := st.assembler.Push(pkt)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	meta, ok := st.frames[ts]
	if !ok {
		return nil
	}
	st.forgetBefore(ts)

	if !meta.keyframe && !st.decoded[meta.refIndex] {
		c.events.Log(now, "frame_undecodable", map[string]any{
			"stream": st.track.Index,
			"frame":  meta.index,
		})
		return nil
	}
	if meta.keyframe {
		clear(st.decoded)
	}
	if meta.temporal == 0 {
		st.decoded[meta.index] = true
	}

	if st.ivf != nil {
		if err := st.ivf.WriteFrame(ts, data); err != nil {
			return c.fail(fmt.Errorf("failed to write encoded frame: %w", err))
		}
	}
	if meta.counted {
		c.render(st, meta, len(data), now)
	}
	return nil
}

// forgetBefore drops the metadata of ts and every older frame
func (st *streamState) forgetBefore(ts uint32) {
	for other := range st.frames {
		if int32(ts-other) >= 0 {
			delete(st.frames, other)
		}
	}
}

func (c *analyzedCall) render(st *streamState, meta frameMeta, size int, now time.Time) {
	st.report.FramesRendered++
	st.bytesRendered += int64(size)
	c.interval.frames++
	c.fixture.rendered.Add(1)

	if st.track.Analyzed {
		metrics.RecordFrameDelay(c.collector, now.Sub(meta.capture), now, st.track.Index)
	}
	if !st.lastRender.IsZero() && now.Sub(st.lastRender) > st.freezeGap {
		st.report.Freezes++
		c.events.Log(now, "freeze", map[string]any{
			"stream":      st.track.Index,
			"duration_ms": now.Sub(st.lastRender).Milliseconds(),
		})
	}
	st.lastRender = now
}

func (c *analyzedCall) handleStats(e *engine.Engine, _ *engine.Event) error {
	now := e.GetSimTime()
	interval := c.fixture.opts.StatsInterval
	e.ScheduleAfter(engine.EventTypeStatsSample, interval, -1, nil)

	var loss float64
	if c.interval.sent > 0 {
		loss = float64(c.interval.lost) / float64(c.interval.sent)
	}
	sentKbps := kbps(c.interval.sentBytes, interval)
	receivedKbps := kbps(c.interval.receivedBytes, interval)
	queue := c.link.QueueLength(now)

	metrics.RecordBitrates(c.collector, sentKbps, receivedKbps, now)
	metrics.RecordPacketLoss(c.collector, loss, now)
	metrics.RecordQueueLength(c.collector, queue, now)
	metrics.RecordFramesRendered(c.collector, c.interval.frames, now)
	c.events.Log(now, "stats", map[string]any{
		"sent_kbps":       sentKbps,
		"received_kbps":   receivedKbps,
		"loss_ratio":      loss,
		"queue_packets":   queue,
		"frames_rendered": c.interval.frames,
	})

	c.interval = intervalCounters{}
	return nil
}

func (c *analyzedCall) report() *models.QualityReport {
	s := c.scenario
	duration := s.Duration()
	ls := c.link.Stats()

	r := &models.QualityReport{
		TestLabel:           s.TestLabel,
		GraphTitle:          s.GraphTitle,
		Codec:               s.CodecName,
		Duration:            duration,
		PacketsSent:         ls.PacketsSent,
		PacketsReceived:     c.packetsReceived,
		PacketsLost:         ls.PacketsLost + ls.PacketsDropped,
		PacketsDropped:      ls.PacketsDropped,
		FECPackets:          c.fecPackets,
		SentBitrateKbps:     kbps(ls.BytesSent, duration),
		ReceivedBitrateKbps: kbps(ls.BytesDelivered, duration),
	}
	if r.PacketsSent > 0 {
		r.LossRatio = float64(r.PacketsLost) / float64(r.PacketsSent)
	}
	if c.mediaBytes > 0 {
		r.FECOverhead = float64(c.fecBytes) / float64(c.mediaBytes)
	}

	for _, st := range c.streams {
		// Frames still in flight when the run ended were neither rendered
		// nor dropped.
		for ts, meta := range st.frames {
			if meta.counted && st.inFlight[ts] > 0 {
				st.report.FramesSent--
			}
		}
		st.report.ReceivedBitrateKbps = kbps(st.bytesRendered, duration)
		sr := st.report
		r.Streams = append(r.Streams, &sr)
		if !st.track.Analyzed {
			continue
		}
		r.FramesSent += sr.FramesSent
		r.FramesRendered += sr.FramesRendered
		r.Freezes += sr.Freezes
	}
	r.FramesDropped = max(r.FramesSent-r.FramesRendered, 0)
	metrics.ApplyDelayStats(c.collector, r)
	r.Metrics = c.collector.GetSummary()
	return r
}

func kbps(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes*8) / d.Seconds() / 1000
}
