package fixture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/metrics"
)

func TestEventLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := openEventLog(path)
	if err != nil {
		t.Fatalf("openEventLog failed: %v", err)
	}
	l.Log(epoch, "stats", map[string]any{"loss_ratio": 0.25, "frames": int64(30)})
	l.Log(epoch.Add(time.Second), "freeze", map[string]any{"stream": 1})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := ReadEventLog(f)
	if err != nil {
		t.Fatalf("ReadEventLog failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Type != "stats" || !records[0].At.Equal(epoch) {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if records[0].Fields["loss_ratio"] != 0.25 || records[0].Fields["frames"] != float64(30) {
		t.Errorf("unexpected fields %v", records[0].Fields)
	}
	if _, ok := records[0].Fields["type"]; ok {
		t.Errorf("type should not be repeated in fields")
	}
	if records[1].Type != "freeze" || records[1].Fields["stream"] != float64(1) {
		t.Errorf("unexpected second record %+v", records[1])
	}
}

func TestEventLogDisabled(t *testing.T) {
	l, err := openEventLog("")
	if err != nil || l != nil {
		t.Fatalf("expected a nil log for an empty path, got %v, %v", l, err)
	}
	l.Log(epoch, "stats", nil)
	if err := l.Close(); err != nil {
		t.Errorf("Close of a nil log failed: %v", err)
	}
}

func TestReadEventLogTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, _ := openEventLog(path)
	l.Log(epoch, "stats", map[string]any{"a": 1})
	_ = l.Close()

	data, _ := os.ReadFile(path)
	_, err := ReadEventLog(bytes.NewReader(data[:len(data)-2]))
	if err == nil {
		t.Errorf("expected an error for a truncated log")
	}
}

func TestWriteGraph(t *testing.T) {
	c := metrics.NewCollector()
	at := epoch.Add(time.Second)
	metrics.RecordBitrates(c, 800, 790, at)
	metrics.RecordPacketLoss(c, 0.01, at)
	metrics.RecordQueueLength(c, 3, at)
	metrics.RecordFramesRendered(c, 30, at)
	metrics.RecordBitrates(c, 810, 800, at.Add(time.Second))

	path := filepath.Join(t.TempDir(), "graph.csv")
	if err := writeGraph(path, "VP8 loss", "video", epoch, c); err != nil {
		t.Fatalf("writeGraph failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"# title: VP8 loss",
		"# label: video",
		"time_ms,sent_bitrate_kbps,received_bitrate_kbps,packet_loss_ratio,queue_length_packets,frames_rendered",
		"1000,800.000,790.000,0.010,3.000,30.000",
		"2000,810.000,800.000,,,",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), data)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestIVFWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), ivfFileName("call", 42))
	if filepath.Base(path) != "call.42.ivf" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}
	w, err := newIVFWriter(path, "VP80", 640, 480)
	if err != nil {
		t.Fatalf("newIVFWriter failed: %v", err)
	}
	if err := w.WriteFrame(3000, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(6000, []byte{4, 5}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != ivfHeaderSize+12+3+12+2 {
		t.Fatalf("unexpected file size %d", len(data))
	}
	if string(data[0:4]) != "DKIF" || string(data[8:12]) != "VP80" {
		t.Errorf("bad signature or fourcc")
	}
	if binary.LittleEndian.Uint16(data[12:]) != 640 || binary.LittleEndian.Uint16(data[14:]) != 480 {
		t.Errorf("bad dimensions")
	}
	if binary.LittleEndian.Uint32(data[24:]) != 2 {
		t.Errorf("expected frame count 2, got %d", binary.LittleEndian.Uint32(data[24:]))
	}
	first := data[ivfHeaderSize:]
	if binary.LittleEndian.Uint32(first) != 3 || binary.LittleEndian.Uint64(first[4:]) != 3000 {
		t.Errorf("bad first frame header")
	}
}

func TestRunAnalyzedWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	s := testScenario(t, map[string]any{
		"duration_secs":           2,
		"loss_percent":            10,
		"event_log_path":          filepath.Join(dir, "call.events"),
		"rtp_dump_path":           filepath.Join(dir, "call.rtpdump"),
		"encoded_frame_base_path": filepath.Join(dir, "frames"),
		"graph_output_path":       filepath.Join(dir, "graph.csv"),
		"graph_title":             "loss 10%",
	})
	f := newTestFixture(t, s)

	r, err := f.RunAnalyzed(context.Background(), s)
	if err != nil {
		t.Fatalf("RunAnalyzed failed: %v", err)
	}

	events, err := os.Open(s.EventLogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer events.Close()
	records, err := ReadEventLog(bufio.NewReader(events))
	if err != nil {
		t.Fatalf("ReadEventLog failed: %v", err)
	}
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Type]++
	}
	if counts["stats"] != 2 {
		t.Errorf("expected 2 stats records, got %d", counts["stats"])
	}
	if counts["packet_dropped"] == 0 {
		t.Errorf("expected packet_dropped records with 10%% loss")
	}

	dump, err := os.ReadFile(s.RTPDumpPath)
	if err != nil || len(dump) == 0 {
		t.Errorf("expected a non-empty rtp dump, err=%v", err)
	}

	graph, err := os.ReadFile(s.GraphOutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(graph), "# title: loss 10%\n") {
		t.Errorf("unexpected graph header %q", strings.SplitN(string(graph), "\n", 2)[0])
	}
	if rows := strings.Count(string(graph), "\n"); rows != 5 {
		t.Errorf("expected 2 comment lines, a header and 2 samples, got %d lines", rows)
	}

	ivf := ivfFileName(s.EncodedFrameBasePath, r.Streams[0].SSRC)
	data, err := os.ReadFile(ivf)
	if err != nil {
		t.Fatalf("missing encoded frame file: %v", err)
	}
	if got := int64(binary.LittleEndian.Uint32(data[24:])); got != r.FramesRendered {
		t.Errorf("ivf holds %d frames, report rendered %d", got, r.FramesRendered)
	}
}
