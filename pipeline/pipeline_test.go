package pipeline_test

import (
	"testing"
	"time"

	"github.com/cdcstream/olr/pipeline"
)

func TestShutdownEscalation(t *testing.T) {
	p := pipeline.New(10 * time.Second)
	if p.ShouldStop() {
		t.Fatal("should not be stopped initially")
	}
	p.SoftShutdown()
	if p.Check() != pipeline.SignalSoft {
		t.Fatalf("got %v, want soft", p.Check())
	}
	p.HardShutdown()
	if p.Check() != pipeline.SignalHard {
		t.Fatalf("got %v, want hard", p.Check())
	}
}

func TestSoftShutdownNeverDowngradesFromHard(t *testing.T) {
	p := pipeline.New(time.Second)
	p.HardShutdown()
	p.SoftShutdown()
	if p.Check() != pipeline.SignalHard {
		t.Fatalf("got %v, want hard to stick", p.Check())
	}
}

func TestWaitCounters(t *testing.T) {
	p := pipeline.New(time.Second)
	p.RecordWait("chunk.reader")
	p.RecordWait("chunk.reader")
	p.RecordTimeout("chunk.reader")

	waits, timeouts := p.Counters()
	if waits["chunk.reader"] != 2 {
		t.Fatalf("got %d waits, want 2", waits["chunk.reader"])
	}
	if timeouts["chunk.reader"] != 1 {
		t.Fatalf("got %d timeouts, want 1", timeouts["chunk.reader"])
	}
}
