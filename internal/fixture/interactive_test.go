package fixture

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRunInteractiveRendersUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	s := testScenario(t, map[string]any{
		"event_log_path":          filepath.Join(dir, "call.events"),
		"encoded_frame_base_path": filepath.Join(dir, "frames"),
	})
	opts := quietOptions()
	opts.StatsInterval = 200 * time.Millisecond
	fx, err := NewFactory(opts).NewFixture(s)
	if err != nil {
		t.Fatalf("NewFixture failed: %v", err)
	}
	f := fx.(*LoopbackFixture)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.RunInteractive(ctx, s); err != nil {
		t.Fatalf("RunInteractive returned %v after cancellation", err)
	}
	if f.RenderedFrames() == 0 {
		t.Errorf("expected frames to be rendered over the virtual network")
	}
}

func TestRunInteractiveUnsupportedCodec(t *testing.T) {
	s := testScenario(t, nil)
	f := newTestFixture(t, s)
	s.CodecName = "AV1"
	if err := f.RunInteractive(context.Background(), s); err == nil {
		t.Errorf("expected an error for an unsupported codec")
	}
}
