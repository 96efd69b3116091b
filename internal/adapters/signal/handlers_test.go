package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spacehost/spacehost/internal/core"
	"github.com/spacehost/spacehost/internal/protocol"
)

type wsEnvelope struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func newDispatchSession(t *testing.T) (*Controller, *session) {
	t.Helper()
	ctl := &Controller{Limiter: NewMessageRateLimiter(1, time.Second)}
	conn := &WsSignalConn{send: make(chan core.Frame, 32)}
	return ctl, &session{sid: "s1", playerID: 1, conn: conn}
}

// drainFrames collects everything queued for the write pump so far.
func drainFrames(t *testing.T, c *WsSignalConn) []wsEnvelope {
	t.Helper()
	var out []wsEnvelope
	for {
		select {
		case f := <-c.send:
			var env wsEnvelope
			if err := json.Unmarshal(f, &env); err != nil {
				t.Fatalf("bad frame %q: %v", f, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestDispatchMalformedJSONRepliesError(t *testing.T) {
	ctl, sess := newDispatchSession(t)

	ctl.dispatch(sess, []byte(`{not json`))

	frames := drainFrames(t, sess.conn)
	if len(frames) != 1 || frames[0].Subject != protocol.OutError {
		t.Fatalf("expected a single error reply, got %v", frames)
	}
	var data protocol.ErrorData
	if err := json.Unmarshal(frames[0].Data, &data); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if data.Message != "bad_payload" {
		t.Fatalf("unexpected error message %q", data.Message)
	}
}

func TestDispatchUnknownSubjectIsDropped(t *testing.T) {
	ctl, sess := newDispatchSession(t)

	ctl.dispatch(sess, []byte(`{"subject":"warp_speed","data":{}}`))

	if frames := drainFrames(t, sess.conn); len(frames) != 0 {
		t.Fatalf("unknown subject produced replies: %v", frames)
	}
}

func TestDispatchBadPayloadRepliesError(t *testing.T) {
	ctl, sess := newDispatchSession(t)

	// Wrong data shape and a missing required field, respectively.
	ctl.dispatch(sess, []byte(`{"subject":"join_space","data":5}`))
	ctl.dispatch(sess, []byte(`{"subject":"join_space","data":{}}`))

	frames := drainFrames(t, sess.conn)
	if len(frames) != 2 {
		t.Fatalf("expected 2 error replies, got %d", len(frames))
	}
	for _, env := range frames {
		if env.Subject != protocol.OutError {
			t.Fatalf("expected error reply, got %q", env.Subject)
		}
	}
}

func TestDispatchCandidateForMissingTransportIsDropped(t *testing.T) {
	ctl, sess := newDispatchSession(t)

	ctl.dispatch(sess, []byte(`{"subject":"connect_transport","data":{"type":"producer","candidate":"candidate:1"}}`))

	if frames := drainFrames(t, sess.conn); len(frames) != 0 {
		t.Fatalf("candidate without a transport produced replies: %v", frames)
	}
}
