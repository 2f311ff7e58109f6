package calls

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redpesk-core/go-binder/apiset"
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/status"
)

type echoAPI struct{}

func (echoAPI) Process(req *request.Request) {
	req.Subscribe("tick")
	req.Reply(status.ReplyOK, req.Params())
}

func (echoAPI) Describe() (json.RawMessage, error) { return json.RawMessage(`{}`), nil }

type fakeTarget struct {
	subscribed   []string
	unsubscribed []string
	failSub      bool
}

func (t *fakeTarget) Subscribe(name string) error {
	if t.failSub {
		return status.New(status.Invalid, "nope")
	}
	t.subscribed = append(t.subscribed, name)
	return nil
}

func (t *fakeTarget) Unsubscribe(name string) error {
	t.unsubscribed = append(t.unsubscribed, name)
	return nil
}

func newSet(t *testing.T) *apiset.Set {
	t.Helper()
	set := apiset.New(time.Second)
	if err := set.Add("echo", echoAPI{}); err != nil {
		t.Fatal(err)
	}
	return set
}

func TestCallDeliversReplyToCallback(t *testing.T) {
	set := newSet(t)
	reg := data.NewRegistry()
	typ, err := reg.RegisterType("text", false)
	if err != nil {
		t.Fatal(err)
	}
	val, err := reg.Copy(typ, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	params := []*data.Value{val}

	var gotStat status.Reply
	var gotReplies []*data.Value
	done := make(chan struct{})

	Call(set, "echo", "say", params, nil, nil, nil, DefaultCallFlags, func(stat status.Reply, replies []*data.Value) {
		gotStat = stat
		gotReplies = replies
		close(done)
	})

	<-done
	if gotStat != status.ReplyOK {
		t.Fatalf("expected ReplyOK, got %v", gotStat)
	}
	if len(gotReplies) != 1 {
		t.Fatalf("expected 1 reply value, got %d", len(gotReplies))
	}
}

func TestCallCatchEventsSubscribesTarget(t *testing.T) {
	set := newSet(t)
	target := &fakeTarget{}

	done := make(chan struct{})
	Call(set, "echo", "say", nil, nil, nil, target, CatchEvents, func(status.Reply, []*data.Value) {
		close(done)
	})
	<-done

	if len(target.subscribed) != 1 || target.subscribed[0] != "tick" {
		t.Fatalf("expected target to catch the tick subscription, got %v", target.subscribed)
	}
}

func TestCallWithoutCatchEventsLeavesTargetAlone(t *testing.T) {
	set := newSet(t)
	target := &fakeTarget{}

	done := make(chan struct{})
	Call(set, "echo", "say", nil, nil, nil, target, 0, func(status.Reply, []*data.Value) {
		close(done)
	})
	<-done

	if len(target.subscribed) != 0 {
		t.Fatalf("expected no subscriptions without CatchEvents, got %v", target.subscribed)
	}
}
