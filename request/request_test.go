package request

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redpesk-core/go-binder/authtree"
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/status"
)

type fakeQueryItf struct {
	mu       sync.Mutex
	replies  []status.Reply
	unrefN   int
}

func (f *fakeQueryItf) Reply(req *Request, stat status.Reply, replies []*data.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, stat)
}

func (f *fakeQueryItf) Unref(req *Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unrefN++
}

func (f *fakeQueryItf) Subscribe(req *Request, eventName string) error   { return nil }
func (f *fakeQueryItf) Unsubscribe(req *Request, eventName string) error { return nil }

func TestReplyIsOneShot(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	req.Reply(status.ReplyOK, nil)
	req.Reply(status.ReplyInternalError, nil)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 || q.replies[0] != status.ReplyOK {
		t.Fatalf("expected exactly one reply of ReplyOK, got %v", q.replies)
	}
}

// TestReplyIsOneShotReleasesDuplicateReplies covers the duplicate-reply
// path with real replies data attached, not just nil: the second call
// must Unref every value handed to it instead of leaking them.
func TestReplyIsOneShotReleasesDuplicateReplies(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	reg := data.NewRegistry()
	szType, err := reg.LookupType("stringz")
	if err != nil {
		t.Fatal(err)
	}
	dup, err := reg.Copy(szType, []byte("dup"))
	if err != nil {
		t.Fatal(err)
	}

	req.Reply(status.ReplyOK, nil)
	req.Reply(status.ReplyInternalError, []*data.Value{dup})

	if got := dup.RefCount(); got != 0 {
		t.Fatalf("duplicate reply value refcount = %d, want 0 (released)", got)
	}
}

func TestUnrefWithoutReplySynthesizesNoReply(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	req.Unref()

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 || q.replies[0] != status.ReplyNoReply {
		t.Fatalf("expected synthesized ReplyNoReply, got %v", q.replies)
	}
	if q.unrefN != 1 {
		t.Fatalf("expected queryitf.Unref called once, got %d", q.unrefN)
	}
}

func TestUnrefAfterReplyDoesNotDoubleReply(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	req.Reply(status.ReplyOK, nil)
	req.Unref()

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 {
		t.Fatalf("expected exactly one reply, got %v", q.replies)
	}
}

func TestCheckAndSetSessionAsyncNoChecksGrantsFast(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	ok, err := req.CheckAndSetSessionAsync(context.Background(), nil, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected fast-track grant")
	}
}

func TestCheckAndSetSessionAsyncOrNoYesGrants(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)
	store := identity.NewSessionStore(0, time.Minute)
	sess, err := store.CreateOrGet("")
	if err != nil {
		t.Fatal(err)
	}
	req.SetSession(sess)

	auth := authtree.MakeOr(authtree.MakeNo(), authtree.MakeYes())
	ok, err := req.CheckAndSetSessionAsync(context.Background(), auth, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Or(No, Yes) should grant")
	}
}

func TestCheckAndSetSessionAsyncAndYesNoDeniesAndReplies(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)
	store := identity.NewSessionStore(0, time.Minute)
	sess, err := store.CreateOrGet("")
	if err != nil {
		t.Fatal(err)
	}
	req.SetSession(sess)

	auth := authtree.MakeAnd(authtree.MakeYes(), authtree.MakeNo())
	ok, err := req.CheckAndSetSessionAsync(context.Background(), auth, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("And(Yes, No) should deny")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 || q.replies[0] != status.ReplyInsufficientScope {
		t.Fatalf("expected an insufficient-scope reply, got %v", q.replies)
	}
}

func TestCheckAndSetSessionAsyncLOAFlag(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)
	store := identity.NewSessionStore(0, time.Minute)
	sess, err := store.CreateOrGet("")
	if err != nil {
		t.Fatal(err)
	}
	req.SetSession(sess)
	// With no auth tree the check also validates the token, so attach one.
	tokens := identity.NewTokenStore()
	req.SetToken(tokens.Intern("tok"))

	flags := WithLOA(0, 2)
	ok, err := req.CheckAndSetSessionAsync(context.Background(), nil, flags, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected denial: session has no LOA recorded yet")
	}

	sess.SetLOA("api", 2)
	ok, err = req.CheckAndSetSessionAsync(context.Background(), nil, flags, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected grant once LOA satisfied")
	}
}

func TestCheckAndSetSessionAsyncCloseFlagMarksSession(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)
	store := identity.NewSessionStore(0, time.Minute)
	sess, err := store.CreateOrGet("")
	if err != nil {
		t.Fatal(err)
	}
	req.SetSession(sess)

	_, err = req.CheckAndSetSessionAsync(context.Background(), authtree.MakeYes(), SessionClose, nil)
	if err != nil {
		t.Fatal(err)
	}

	req.mu.Lock()
	closing := req.closing
	req.mu.Unlock()
	if !closing {
		t.Fatalf("expected SessionClose flag to mark the request closing")
	}
}

func TestAsyncStackPushPop(t *testing.T) {
	q := &fakeQueryItf{}
	req := New(q, "api", "verb", nil)

	for i := 0; i < maxAsyncItems; i++ {
		if !req.AsyncPush(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if req.AsyncPush("overflow") {
		t.Fatalf("push beyond capacity should fail")
	}
	for i := maxAsyncItems - 1; i >= 0; i-- {
		v := req.AsyncPop()
		if v != i {
			t.Fatalf("expected pop order to reverse push order: got %v want %d", v, i)
		}
	}
	if req.AsyncPop() != nil {
		t.Fatalf("expected nil pop on empty stack")
	}
}

type fakeAPISet struct {
	apis map[string]APIItem
}

func (f fakeAPISet) GetAPI(name string) (APIItem, error) {
	a, ok := f.apis[name]
	if !ok {
		return nil, status.New(status.NotFound, "fakeAPISet.GetAPI")
	}
	return a, nil
}

type recordingAPI struct {
	called bool
}

func (a *recordingAPI) Process(req *Request) {
	a.called = true
	req.Reply(status.ReplyOK, nil)
}

func TestProcessDispatchesToResolvedAPI(t *testing.T) {
	q := &fakeQueryItf{}
	api := &recordingAPI{}
	set := fakeAPISet{apis: map[string]APIItem{"api": api}}

	req := New(q, "api", "verb", nil)
	req.Process(set)

	if !api.called {
		t.Fatalf("expected the resolved api to be invoked")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 || q.replies[0] != status.ReplyOK {
		t.Fatalf("expected ReplyOK, got %v", q.replies)
	}
}

func TestProcessUnknownAPIReplies(t *testing.T) {
	q := &fakeQueryItf{}
	set := fakeAPISet{apis: map[string]APIItem{}}

	req := New(q, "missing", "verb", nil)
	req.Process(set)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) != 1 || q.replies[0] != status.ReplyUnknownAPI {
		t.Fatalf("expected ReplyUnknownAPI, got %v", q.replies)
	}
}

func TestImportCredentialRejectsGarbage(t *testing.T) {
	_, err := importCredential("not-a-credential", []byte("0123456789abcdef0123456789abcdef"))
	if err == nil {
		t.Fatalf("expected an error importing garbage")
	}
}
