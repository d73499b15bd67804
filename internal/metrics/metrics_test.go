package metrics

import (
	"testing"
	"time"
)

func TestHelpersBeforeInitAreNoOps(t *testing.T) {
	// Must not panic even if Init has not run in this process yet.
	FrontierEnqueue("accepted")
	FrontierDepth(3)
	PageProcessed("completed")
	ObserveFetchDuration(time.Second)
	ProxyAcquire("ok")
	ProxyBlacklisted()
	ProxyPoolSize(1, 0)
	JobDispatched()
	JobCompleted("success")
	SessionStarted()
	SessionFinished()
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	if !initialized {
		t.Fatal("expected collectors to be registered")
	}
	FrontierEnqueue("accepted")
	PageProcessed("completed")
	ProxyAcquire("unavailable")
	JobCompleted("failure")
	if Handler() == nil {
		t.Fatal("expected metrics handler")
	}
}
