package calls

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redpesk-core/go-binder/apiset"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/status"
)

type syncEchoAPI struct{}

func (syncEchoAPI) Process(req *request.Request) {
	req.Reply(status.ReplyOK, req.Params())
}

func (syncEchoAPI) Describe() (json.RawMessage, error) { return json.RawMessage(`{}`), nil }

type neverReplyAPI struct{}

func (neverReplyAPI) Process(req *request.Request) {}

func (neverReplyAPI) Describe() (json.RawMessage, error) { return json.RawMessage(`{}`), nil }

func TestCallSyncReturnsReplyImmediately(t *testing.T) {
	set := apiset.New(time.Second)
	if err := set.Add("echo", syncEchoAPI{}); err != nil {
		t.Fatal(err)
	}

	stat, _ := CallSync(set, "echo", "say", nil, nil, nil, nil, DefaultCallFlags, time.Second, 0)
	if stat != status.ReplyOK {
		t.Fatalf("expected ReplyOK, got %v", stat)
	}
}

func TestCallSyncNoReplyWhenCalleeNeverReplies(t *testing.T) {
	set := apiset.New(time.Second)
	if err := set.Add("stuck", neverReplyAPI{}); err != nil {
		t.Fatal(err)
	}

	// Process() synthesizes ReplyNoReply on unref when the api never
	// calls Reply, so CallSync observes it without needing the
	// scheduler's own timeout to fire; see scheduler_test.go for the
	// timeout path in isolation.
	stat, replies := CallSync(set, "stuck", "say", nil, nil, nil, nil, DefaultCallFlags, 20*time.Millisecond, 0)
	if stat != status.ReplyNoReply {
		t.Fatalf("expected ReplyNoReply, got %v", stat)
	}
	if replies != nil {
		t.Fatalf("expected no replies, got %v", replies)
	}
}
