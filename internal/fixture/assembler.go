package fixture

import (
	"fmt"
	"sort"

	"github.com/pion/rtp"
)

type partialFrame struct {
	payloads map[uint16][]byte
	head     uint16
	tail     uint16
	hasHead  bool
	hasTail  bool
}

func (p *partialFrame) complete() bool {
	if !p.hasHead || !p.hasTail {
		return false
	}
	return len(p.payloads) == int(p.tail-p.head)+1
}

// frameAssembler rebuilds encoded frames from the RTP packets of one SSRC.
// Packets may arrive in any order; frames are grouped by RTP timestamp.
type frameAssembler struct {
	newDepacketizer func() rtp.Depacketizer
	head            rtp.Depacketizer
	frames          map[uint32]*partialFrame

	// timestamp of the newest completed frame; packets at or before it are late
	done    uint32
	hasDone bool
}

func newFrameAssembler(c codecInfo) *frameAssembler {
	return &frameAssembler{
		newDepacketizer: c.newDepacketizer,
		head:            c.newDepacketizer(),
		frames:          make(map[uint32]*partialFrame),
	}
}

// Push adds a packet. When the packet completes its frame, the frame's
// timestamp and media bytes are returned along with the number of older
// incomplete frames that were given up.
func (a *frameAssembler) Push(pkt *rtp.Packet) (ts uint32, data []byte, abandoned int, err error) {
	if a.hasDone && int32(pkt.Timestamp-a.done) <= 0 {
		return 0, nil, 0, nil
	}
	pf, ok := a.frames[pkt.Timestamp]
	if !ok {
		pf = &partialFrame{payloads: make(map[uint16][]byte)}
		a.frames[pkt.Timestamp] = pf
	}
	if _, dup := pf.payloads[pkt.SequenceNumber]; dup {
		return 0, nil, 0, nil
	}
	pf.payloads[pkt.SequenceNumber] = append([]byte(nil), pkt.Payload...)

	if a.head.IsPartitionHead(pkt.Payload) && (!pf.hasHead || seqBefore(pkt.SequenceNumber, pf.head)) {
		pf.head, pf.hasHead = pkt.SequenceNumber, true
	}
	if a.head.IsPartitionTail(pkt.Marker, pkt.Payload) {
		pf.tail, pf.hasTail = pkt.SequenceNumber, true
	}
	if !pf.complete() {
		return 0, nil, 0, nil
	}

	delete(a.frames, pkt.Timestamp)
	a.done, a.hasDone = pkt.Timestamp, true
	for other := range a.frames {
		if int32(pkt.Timestamp-other) > 0 {
			delete(a.frames, other)
			abandoned++
		}
	}

	data, err = a.depacketize(pf)
	if err != nil {
		return 0, nil, abandoned, err
	}
	return pkt.Timestamp, data, abandoned, nil
}

// Pending returns the number of incomplete frames
func (a *frameAssembler) Pending() int {
	return len(a.frames)
}

func (a *frameAssembler) depacketize(pf *partialFrame) ([]byte, error) {
	seqs := make([]uint16, 0, len(pf.payloads))
	for seq := range pf.payloads {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool {
		return seqBefore(seqs[i], seqs[j])
	})

	d := a.newDepacketizer()
	var out []byte
	for _, seq := range seqs {
		media, err := d.Unmarshal(pf.payloads[seq])
		if err != nil {
			return nil, fmt.Errorf("failed to depacketize seq %d: %w", seq, err)
		}
		out = append(out, media...)
	}
	return out, nil
}

// seqBefore compares RTP sequence numbers with wrap-around
func seqBefore(a, b uint16) bool {
	return a != b && b-a < 0x8000
}
