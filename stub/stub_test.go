package stub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redpesk-core/go-binder/apiset"
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/event"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

type echoAPI struct{}

func (echoAPI) Process(req *request.Request) {
	req.Reply(status.ReplyOK, req.Params())
}

func (echoAPI) Describe() (json.RawMessage, error) {
	return json.RawMessage(`{"info":"echo"}`), nil
}

type subscribeAPI struct{ eventName string }

func (a subscribeAPI) Process(req *request.Request) {
	if err := req.Subscribe(a.eventName); err != nil {
		req.Reply(status.ReplyInternalError, nil)
		return
	}
	req.Reply(status.ReplyOK, nil)
}

func (a subscribeAPI) Describe() (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// loopbackPair wires a client and server Stub together over ordered,
// per-direction channels, the way a real socket preserves send order.
func loopbackPair(t *testing.T, reg *data.Registry, fab *event.Fabric, apiSet *apiset.Set) (client, server *Stub) {
	t.Helper()
	toServer := make(chan []byte, 64)
	toClient := make(chan []byte, 64)

	sessions := identity.NewSessionStore(16, time.Minute)
	tokens := identity.NewTokenStore()

	client = New(Config{
		Registry: reg, Fabric: fab, Sessions: sessions, Tokens: tokens,
		Send: func(buf []byte) error { toServer <- buf; return nil },
	})
	server = New(Config{
		Registry: reg, Fabric: fab, Sessions: sessions, Tokens: tokens,
		APISet: apiSet, Describer: apiSet,
		Send: func(buf []byte) error { toClient <- buf; return nil },
	})

	go func() {
		for buf := range toServer {
			_ = server.Receive(buf)
		}
	}()
	go func() {
		for buf := range toClient {
			_ = client.Receive(buf)
		}
	}()

	if err := client.StartClient(); err != nil {
		t.Fatalf("StartClient: %v", err)
	}
	waitFor(t, func() bool { return client.Version() != 0 && server.Version() != 0 })
	return client, server
}

func TestCallRoundTrip(t *testing.T) {
	reg := data.NewRegistry()
	fab := event.NewFabric(event.Config{})
	apiSet := apiset.New(time.Second)
	if err := apiSet.Add("echo", echoAPI{}); err != nil {
		t.Fatal(err)
	}

	client, _ := loopbackPair(t, reg, fab, apiSet)

	szType, err := reg.LookupType("stringz")
	if err != nil {
		t.Fatal(err)
	}
	arg, err := reg.Copy(szType, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	defer arg.Unref()

	var gotStat status.Reply
	var gotValues []*data.Value
	done := make(chan struct{})
	err = client.Call("echo", "ping", []*data.Value{arg}, CallOptions{}, func(stat status.Reply, values []*data.Value) {
		gotStat, gotValues = stat, values
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	if gotStat != status.ReplyOK {
		t.Fatalf("status = %v, want OK", gotStat)
	}
	if len(gotValues) != 1 {
		t.Fatalf("values = %v, want 1 entry", gotValues)
	}
	b, _ := gotValues[0].GetRO()
	if string(b) != "hello" {
		t.Fatalf("echoed value = %q, want %q", b, "hello")
	}
}

func TestCallUnknownAPIReplied(t *testing.T) {
	reg := data.NewRegistry()
	fab := event.NewFabric(event.Config{})
	apiSet := apiset.New(time.Second)

	client, _ := loopbackPair(t, reg, fab, apiSet)

	var gotStat status.Reply
	done := make(chan struct{})
	if err := client.Call("missing", "verb", nil, CallOptions{}, func(stat status.Reply, _ []*data.Value) {
		gotStat = stat
		close(done)
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	if gotStat != status.ReplyUnknownAPI {
		t.Fatalf("status = %v, want ReplyUnknownAPI", gotStat)
	}
}

func TestDescribeRoundTrip(t *testing.T) {
	reg := data.NewRegistry()
	fab := event.NewFabric(event.Config{})
	apiSet := apiset.New(time.Second)
	if err := apiSet.Add("echo", echoAPI{}); err != nil {
		t.Fatal(err)
	}

	client, _ := loopbackPair(t, reg, fab, apiSet)

	var desc []byte
	var descErr error
	done := make(chan struct{})
	if err := client.Describe("echo", func(d []byte, err error) {
		desc, descErr = d, err
		close(done)
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for describe reply")
	}
	if descErr != nil {
		t.Fatal(descErr)
	}
	if string(desc) != `{"info":"echo"}` {
		t.Fatalf("describe = %q", desc)
	}
}

func TestEventPushDelivery(t *testing.T) {
	reg := data.NewRegistry()
	fab := event.NewFabric(event.Config{})
	if _, err := fab.Create("tick"); err != nil {
		t.Fatal(err)
	}
	apiSet := apiset.New(time.Second)
	if err := apiSet.Add("sub", subscribeAPI{eventName: "tick"}); err != nil {
		t.Fatal(err)
	}

	client, server := loopbackPair(t, reg, fab, apiSet)

	var pushed string
	var pushedValues []*data.Value
	pushDone := make(chan struct{})
	replyDone := make(chan struct{})
	err := client.Call("sub", "go", nil, CallOptions{
		OnEvent: func(name string, values []*data.Value) {
			pushed, pushedValues = name, values
			close(pushDone)
		},
	}, func(stat status.Reply, _ []*data.Value) {
		if stat != status.ReplyOK {
			t.Errorf("subscribe call status = %v, want OK", stat)
		}
		close(replyDone)
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-replyDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe reply")
	}

	ev, err := fab.Lookup("tick")
	if err != nil {
		t.Fatal(err)
	}
	szType, _ := reg.LookupType("stringz")
	val, err := reg.Copy(szType, []byte("tock"))
	if err != nil {
		t.Fatal(err)
	}
	defer val.Unref()
	fab.Push(ev, []*data.Value{val})

	select {
	case <-pushDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}
	if pushed != "tick" {
		t.Fatalf("pushed event name = %q, want tick", pushed)
	}
	if len(pushedValues) != 1 {
		t.Fatalf("pushed values = %v, want 1 entry", pushedValues)
	}
	b, _ := pushedValues[0].GetRO()
	if string(b) != "tock" {
		t.Fatalf("pushed value = %q, want tock", b)
	}
	_ = server
}

func TestDisconnectSynthesizesRepliesInOrder(t *testing.T) {
	reg := data.NewRegistry()
	s := New(Config{
		Registry: reg,
		Send:     func([]byte) error { return nil },
	})
	s.version = rpcproto.Version3

	var order []status.Reply
	var mu sync.Mutex
	cb := func(stat status.Reply, _ []*data.Value) {
		mu.Lock()
		order = append(order, stat)
		mu.Unlock()
	}
	if err := s.Call("a", "verb", nil, CallOptions{}, cb); err != nil {
		t.Fatal(err)
	}
	if err := s.Call("b", "verb", nil, CallOptions{}, cb); err != nil {
		t.Fatal(err)
	}

	s.Disconnect()

	if len(order) != 2 {
		t.Fatalf("replies = %v, want 2", order)
	}
	if order[0] != status.ReplyDisconnected || order[1] != status.ReplyDisconnected {
		t.Fatalf("replies = %v, want both ReplyDisconnected", order)
	}
}

// TestOpaqueValueRoundTripsByDataID covers the VALUE_DATA wire path: an
// argument the caller opacified ahead of time is announced once via
// resource_create(kind=DATA) and, on a second call reusing the same
// *data.Value, referenced purely by its wire id.
func TestOpaqueValueRoundTripsByDataID(t *testing.T) {
	reg := data.NewRegistry()
	fab := event.NewFabric(event.Config{})
	apiSet := apiset.New(time.Second)
	if err := apiSet.Add("echo", echoAPI{}); err != nil {
		t.Fatal(err)
	}

	client, _ := loopbackPair(t, reg, fab, apiSet)

	szType, err := reg.LookupType("stringz")
	if err != nil {
		t.Fatal(err)
	}
	arg, err := reg.Copy(szType, []byte("pinned"))
	if err != nil {
		t.Fatal(err)
	}
	defer arg.Unref()
	reg.Opacify(arg)

	call := func() []*data.Value {
		var gotValues []*data.Value
		done := make(chan struct{})
		if err := client.Call("echo", "ping", []*data.Value{arg}, CallOptions{}, func(stat status.Reply, values []*data.Value) {
			if stat != status.ReplyOK {
				t.Errorf("status = %v, want OK", stat)
			}
			gotValues = values
			close(done)
		}); err != nil {
			t.Fatal(err)
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reply")
		}
		return gotValues
	}

	for i := 0; i < 2; i++ {
		values := call()
		if len(values) != 1 {
			t.Fatalf("round %d: values = %v, want 1 entry", i, values)
		}
		b, _ := values[0].GetRO()
		if string(b) != "pinned" {
			t.Fatalf("round %d: echoed value = %q, want %q", i, b, "pinned")
		}
	}

	client.mu.Lock()
	wireID, announced := client.outData[arg]
	pins := len(client.outDataPins)
	client.mu.Unlock()
	if !announced {
		t.Fatalf("opacified argument was never announced via resource_create(kind=DATA)")
	}
	if pins != 1 {
		t.Fatalf("outDataPins = %d entries, want exactly 1 (one resource_create, reused by id)", pins)
	}
	_ = wireID
}
