package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T) (Reply, *[]Response) {
	t.Helper()
	var got []Response
	return func(r Response) { got = append(got, r) }, &got
}

func TestDispatchSyncResult(t *testing.T) {
	r := New()
	r.Register("echo", func(_ context.Context, msg Message, _ Reply) (any, error) {
		var s string
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return nil, err
		}
		return map[string]string{"got": s}, nil
	})

	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "echo", Data: json.RawMessage(`"x"`)}, reply)

	if len(*got) != 1 || !(*got)[0].Success {
		t.Fatalf("replies = %+v", *got)
	}
	if !strings.Contains(string((*got)[0].Data), `"x"`) {
		t.Fatalf("data = %s", (*got)[0].Data)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	r := New()
	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "nope"}, reply)
	if len(*got) != 1 || (*got)[0].Success {
		t.Fatalf("replies = %+v", *got)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := New()
	r.Register("boom", func(context.Context, Message, Reply) (any, error) {
		return nil, errors.New("storage offline")
	})
	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "boom"}, reply)
	if len(*got) != 1 || (*got)[0].Success || (*got)[0].Error != "storage offline" {
		t.Fatalf("replies = %+v", *got)
	}
}

func TestDispatchPanicBecomesError(t *testing.T) {
	r := New()
	r.Register("panic", func(context.Context, Message, Reply) (any, error) {
		panic("nil deref")
	})
	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "panic"}, reply)
	if len(*got) != 1 || (*got)[0].Success {
		t.Fatalf("replies = %+v", *got)
	}
	if !strings.Contains((*got)[0].Error, "nil deref") {
		t.Fatalf("error = %q", (*got)[0].Error)
	}
}

func TestAsyncHandlerRepliesOnce(t *testing.T) {
	// The handler defers, then replies twice; only the first lands. The
	// sync path after ErrAsync must not add another.
	r := New()
	var deferred Reply
	r.Register("later", func(_ context.Context, _ Message, reply Reply) (any, error) {
		deferred = reply
		return nil, ErrAsync
	})
	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "later"}, reply)
	if len(*got) != 0 {
		t.Fatalf("premature replies = %+v", *got)
	}

	deferred(Response{Success: true})
	deferred(Response{Success: false, Error: "dup"})
	if len(*got) != 1 || !(*got)[0].Success {
		t.Fatalf("replies = %+v", *got)
	}
}

func TestSyncReplyAfterManualReplyIsSuppressed(t *testing.T) {
	// A confused handler replies manually AND returns a value; the caller
	// still sees exactly one reply.
	r := New()
	r.Register("both", func(_ context.Context, _ Message, reply Reply) (any, error) {
		reply(Response{Success: true, Data: json.RawMessage(`"manual"`)})
		return "returned", nil
	})
	reply, got := collect(t)
	r.Dispatch(context.Background(), Message{Action: "both"}, reply)
	if len(*got) != 1 {
		t.Fatalf("replies = %+v", *got)
	}
	if string((*got)[0].Data) != `"manual"` {
		t.Fatalf("data = %s", (*got)[0].Data)
	}
}
