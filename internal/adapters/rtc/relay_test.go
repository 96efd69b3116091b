package rtc

import "testing"

func TestOutTrackStartsPausedWhenRequested(t *testing.T) {
	ot := NewOutTrack(nil, true)
	if ot.getState() != trackStatePaused {
		t.Fatal("expected paused initial state")
	}
	ot.MarkOk()
	if ot.getState() != trackStateOk {
		t.Fatal("expected ok after resume")
	}
	ot.MarkPaused()
	if ot.getState() != trackStatePaused {
		t.Fatal("expected paused after pause")
	}
}

func TestRelayRemoveOutMarksDelete(t *testing.T) {
	r := NewRelay()
	ot := NewOutTrack(nil, false)
	r.AddOut("c1", ot)

	r.RemoveOut("c1")
	if ot.getState() != trackStateDelete {
		t.Fatal("removed out track not marked for deletion")
	}
	if len(r.outs) != 0 {
		t.Fatal("out track still attached after removal")
	}
}

func TestRelayStopDetachesAll(t *testing.T) {
	r := NewRelay()
	a := NewOutTrack(nil, false)
	b := NewOutTrack(nil, true)
	r.AddOut("a", a)
	r.AddOut("b", b)

	r.Stop()
	if len(r.outs) != 0 {
		t.Fatal("out tracks survived stop")
	}
	if a.getState() != trackStateDelete || b.getState() != trackStateDelete {
		t.Fatal("stopped tracks not marked for deletion")
	}
}
