package fixture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/flexfec"
	"github.com/pion/interceptor/pkg/packetdump"
	"github.com/pion/logging"
	"github.com/pion/rtp"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
)

// outboundPacket is a packet leaving the send pipeline
type outboundPacket struct {
	Track     *track
	Seq       uint16
	Timestamp uint32
	FEC       bool
	Covered   []uint16 // media sequence numbers protected by a FEC packet
	Wire      []byte
}

// sinkFunc receives every packet the pipeline emits, media and FEC alike
type sinkFunc func(p outboundPacket) error

// fecGroup follows the flexfec batches of one track so that every FEC packet
// can name the media packets it protects
type fecGroup struct {
	window []uint16
	sent   int
}

// sendPipeline packetises frames and runs them through the interceptor chain
type sendPipeline struct {
	chain       interceptor.Interceptor
	codec       codecInfo
	mtu         uint16
	packetizers map[int]rtp.Packetizer
	writers     map[int]interceptor.RTPWriter
	infos       map[int]*interceptor.StreamInfo
	dump        *os.File

	mu     sync.Mutex
	groups map[int]*fecGroup
}

func newSendPipeline(s config.TestScenario, codec codecInfo, tracks []*track, mtu int, lf logging.LoggerFactory, sink sinkFunc) (*sendPipeline, error) {
	p := &sendPipeline{
		codec:       codec,
		mtu:         uint16(mtu),
		packetizers: make(map[int]rtp.Packetizer),
		writers:     make(map[int]interceptor.RTPWriter),
		infos:       make(map[int]*interceptor.StreamInfo),
		groups:      make(map[int]*fecGroup),
	}

	registry := &interceptor.Registry{}
	if s.RTPDumpPath != "" {
		f, err := os.Create(s.RTPDumpPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create rtp dump: %w", err)
		}
		p.dump = f
		dumper, err := packetdump.NewSenderInterceptor(
			packetdump.RTPWriter(f),
			packetdump.RTCPWriter(io.Discard),
			packetdump.Log(lf.NewLogger("packetdump")),
		)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create packet dumper: %w", err)
		}
		registry.Add(dumper)
	}
	if s.FlexFEC {
		fec, err := flexfec.NewFecInterceptor(
			flexfec.NumMediaPackets(fecMediaPackets),
			flexfec.NumFECPackets(fecPackets),
		)
		if err != nil {
			p.closeDump()
			return nil, fmt.Errorf("failed to create flexfec interceptor: %w", err)
		}
		registry.Add(fec)
	}

	chain, err := registry.Build("loopback-sender")
	if err != nil {
		p.closeDump()
		return nil, fmt.Errorf("failed to build interceptor chain: %w", err)
	}
	p.chain = chain

	for _, t := range tracks {
		info := &interceptor.StreamInfo{
			ID:          fmt.Sprintf("video-%d", t.Index),
			SSRC:        t.SSRC,
			PayloadType: codec.payloadType,
			MimeType:    codec.mimeType,
			ClockRate:   videoClockRate,
		}
		if s.FlexFEC {
			info.SSRCForwardErrorCorrection = t.FECSSRC
			info.PayloadTypeForwardErrorCorrection = fecPayloadType
		}
		p.infos[t.Index] = info
		p.groups[t.Index] = &fecGroup{}
		p.packetizers[t.Index] = rtp.NewPacketizer(p.mtu, codec.payloadType, t.SSRC,
			codec.newPayloader(), rtp.NewRandomSequencer(), videoClockRate)

		tr := t
		p.writers[t.Index] = chain.BindLocalStream(info, interceptor.RTPWriterFunc(
			func(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
				out, err := p.outbound(tr, header, payload)
				if err != nil {
					return 0, err
				}
				if err := sink(out); err != nil {
					return 0, err
				}
				return len(payload), nil
			}))
	}
	return p, nil
}

// Send packetises one frame of a track and writes it through the chain.
// It returns the RTP timestamp of the frame.
func (p *sendPipeline) Send(t *track, samples uint32, data []byte) (uint32, error) {
	packets := p.packetizers[t.Index].Packetize(data, samples)
	if len(packets) == 0 {
		return 0, fmt.Errorf("frame of %d bytes produced no packets", len(data))
	}
	w := p.writers[t.Index]
	for _, pkt := range packets {
		if _, err := w.Write(&pkt.Header, pkt.Payload, interceptor.Attributes{}); err != nil {
			return 0, err
		}
	}
	return packets[0].Timestamp, nil
}

func (p *sendPipeline) outbound(t *track, header *rtp.Header, payload []byte) (outboundPacket, error) {
	pkt := rtp.Packet{Header: *header, Payload: payload}
	wire, err := pkt.Marshal()
	if err != nil {
		return outboundPacket{}, fmt.Errorf("failed to marshal rtp packet: %w", err)
	}
	out := outboundPacket{
		Track:     t,
		Seq:       header.SequenceNumber,
		Timestamp: header.Timestamp,
		Wire:      wire,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.groups[t.Index]
	if header.SSRC == t.FECSSRC {
		// FEC packet i of a batch covers media packets i, i+n, i+2n, ...
		out.FEC = true
		for j := g.sent; j < len(g.window); j += fecPackets {
			out.Covered = append(out.Covered, g.window[j])
		}
		g.sent++
		if g.sent == fecPackets {
			g.window, g.sent = nil, 0
		}
		return out, nil
	}
	if len(g.window) == fecMediaPackets {
		g.window = nil
	}
	g.window = append(g.window, header.SequenceNumber)
	return out, nil
}

// Close unbinds the streams and flushes the dump
func (p *sendPipeline) Close() error {
	for idx, info := range p.infos {
		p.chain.UnbindLocalStream(info)
		delete(p.infos, idx)
	}
	var errs []error
	if err := p.chain.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.dump != nil {
		if err := p.dump.Close(); err != nil {
			errs = append(errs, err)
		}
		p.dump = nil
	}
	return errors.Join(errs...)
}

func (p *sendPipeline) closeDump() {
	if p.dump != nil {
		_ = p.dump.Close()
		p.dump = nil
	}
}
