// Package request implements the common request object every API
// verb call flows through: reply-once semantics, session/token/
// credential attachment, per-api cookies, and the asynchronous
// session/authorization check that walks an authtree.Tree. Field
// shapes are grounded on afb-req-common.h/.c.
package request

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/status"
)

// maxAsyncItems mirrors afb_req_common's fixed asyncitems[7] scratch
// stack, the storage behind AsyncPush/AsyncPop. The auth walk in this
// package does not use it.
const maxAsyncItems = 7

// QueryItf is the implementation-specific half of a request: whatever
// transport accepted the call (a local call, the RPC stub, the HTTP
// binding) supplies one to deliver replies and manage subscriptions.
type QueryItf interface {
	// Reply delivers the final reply. Called at most once per request.
	Reply(req *Request, stat status.Reply, replies []*data.Value)
	// Unref releases the transport's own hold on the request.
	Unref(req *Request)
	// Subscribe attaches eventName to whatever connection owns this
	// request, so events pushed on it are forwarded to the caller.
	Subscribe(req *Request, eventName string) error
	// Unsubscribe reverses Subscribe.
	Unsubscribe(req *Request, eventName string) error
}

// Request is a single in-flight API verb call.
type Request struct {
	refcount int32 // atomic

	mu         sync.Mutex
	replied    bool
	created    bool
	validated  bool
	invalidated bool
	closing    bool
	closed     bool

	asyncItems [maxAsyncItems]any
	asyncCount int

	session *identity.Session
	token   *identity.Token
	cred    *identity.Credential

	apiName  string
	verbName string

	queryitf QueryItf
	params   []*data.Value

	api APIItem
}

// APIItem is what request.Process needs from a looked-up api: just
// enough to hand the request to its verb dispatch. apiset.Set
// implements APISet without request importing apiset, avoiding an
// import cycle (apiset's verb handlers take a *Request).
type APIItem interface {
	// Process runs the verb handler for req. Implementations reply to
	// req themselves; Process does not return a status.
	Process(req *Request)
}

// APISet resolves an api name to the item that will process requests
// against it.
type APISet interface {
	GetAPI(name string) (APIItem, error)
}

// New builds a request for apiName/verbName carrying params. The
// request starts with a refcount of 1, owned by the caller.
func New(queryitf QueryItf, apiName, verbName string, params []*data.Value) *Request {
	return &Request{
		refcount: 1,
		queryitf: queryitf,
		apiName:  apiName,
		verbName: verbName,
		params:   params,
	}
}

// APIName returns the targeted API name.
func (r *Request) APIName() string { return r.apiName }

// VerbName returns the targeted verb name.
func (r *Request) VerbName() string { return r.verbName }

// Params returns the request's argument data, in the shape the caller
// attached them.
func (r *Request) Params() []*data.Value { return r.params }

// PrepareForwarding rewrites the targeted api/verb and argument list in
// place, for a request being re-dispatched to another api (on-behalf or
// redirect calls) without going through a fresh AddRef/Unref cycle.
func (r *Request) PrepareForwarding(apiName, verbName string, params []*data.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiName = apiName
	r.verbName = verbName
	r.params = params
}

// Session returns the request's attached session, or nil.
func (r *Request) Session() *identity.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// SetSession attaches session to the request, replacing and releasing
// whatever session was attached before.
func (r *Request) SetSession(session *identity.Session) {
	r.mu.Lock()
	old := r.session
	if session != nil {
		session = session.AddRef()
	}
	r.session = session
	r.mu.Unlock()
	if old != nil {
		old.Unref()
	}
}

// Token returns the request's attached token, or nil.
func (r *Request) Token() *identity.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// SetToken attaches token to the request, replacing and releasing
// whatever token was attached before.
func (r *Request) SetToken(token *identity.Token) {
	r.mu.Lock()
	old := r.token
	if token != nil {
		token = token.AddRef()
	}
	r.token = token
	r.mu.Unlock()
	if old != nil {
		old.Unref()
	}
}

// Credential returns the request's attached credential, or nil.
func (r *Request) Credential() *identity.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred
}

// SetCredential attaches cred to the request.
func (r *Request) SetCredential(cred *identity.Credential) {
	r.mu.Lock()
	r.cred = cred
	r.mu.Unlock()
}

// Cookie fetches the cookie the request's session holds for its target
// api, creating it via initFn on first access. Requires a session to
// be attached.
func (r *Request) Cookie(initFn func() (any, identity.DisposeFunc)) (any, error) {
	sess := r.Session()
	if sess == nil {
		return nil, status.New(status.Invalid, "request.Cookie")
	}
	return sess.CookieGetInit(r.apiName, initFn), nil
}

// CloseSession marks the request so that, on its final release, the
// session's cookie for the targeted api is dropped. The session itself
// stays in its store.
func (r *Request) CloseSession() {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
}

// HasLOA reports whether the request's session carries at least the
// given level of assurance for the targeted api. A level of 0 always
// passes, matching afb_req_common_has_loa's "0 disables the check"
// convention.
func (r *Request) HasLOA(level int) bool {
	if level <= 0 {
		return true
	}
	sess := r.Session()
	if sess == nil {
		return false
	}
	return sess.LOA(r.apiName) >= level
}

// SetLOA records level as the level of assurance the request's session
// now carries for the targeted api.
func (r *Request) SetLOA(level int) error {
	sess := r.Session()
	if sess == nil {
		return status.New(status.Invalid, "request.SetLOA")
	}
	sess.SetLOA(r.apiName, level)
	return nil
}

// AddRef increments the request's reference count.
func (r *Request) AddRef() *Request {
	atomic.AddInt32(&r.refcount, 1)
	return r
}

// Unref decrements the reference count. At zero, if the request was
// never replied to, a "no reply" error is synthesized first — replying
// from within that synthesis may re-increment the refcount (the
// request is being held for delayed completion), in which case Unref
// leaves disposal to a later call, matching afb_req_common_unref.
func (r *Request) Unref() {
	if atomic.AddInt32(&r.refcount, -1) > 0 {
		return
	}
	r.mu.Lock()
	replied := r.replied
	r.mu.Unlock()
	if !replied {
		r.Reply(status.ReplyNoReply, nil)
		if atomic.LoadInt32(&r.refcount) > 0 {
			return
		}
	}
	r.cleanup()
	r.queryitf.Unref(r)
}

// Reply delivers the request's final reply. Calling it more than once
// is a programming error: the second and later calls log an error and
// release the supplied replies themselves, a no-op as far as the peer
// is concerned, matching afb_req_common_reply's double-reply handling.
func (r *Request) Reply(stat status.Reply, replies []*data.Value) {
	r.mu.Lock()
	if r.replied {
		r.mu.Unlock()
		slog.Error("request: reply called more than once", "api", r.apiName, "verb", r.verbName)
		for _, v := range replies {
			v.Unref()
		}
		return
	}
	r.replied = true
	r.mu.Unlock()
	r.queryitf.Reply(r, stat, replies)
}

// cleanup releases the session/token/credential and drops the
// session's cookie for this api if the request asked to close it.
func (r *Request) cleanup() {
	r.mu.Lock()
	sess, closing := r.session, r.closing
	r.session = nil
	tok := r.token
	r.token = nil
	r.mu.Unlock()

	if sess != nil {
		if closing {
			sess.DropKey(r.apiName)
		}
		sess.Unref()
	}
	if tok != nil {
		tok.Unref()
	}
}

// Subscribe attaches eventName to the request's owning connection.
func (r *Request) Subscribe(eventName string) error {
	r.mu.Lock()
	replied := r.replied
	r.mu.Unlock()
	if replied {
		return status.New(status.Invalid, "request.Subscribe: already replied")
	}
	return r.queryitf.Subscribe(r, eventName)
}

// Unsubscribe detaches eventName from the request's owning connection.
func (r *Request) Unsubscribe(eventName string) error {
	r.mu.Lock()
	replied := r.replied
	r.mu.Unlock()
	if replied {
		return status.New(status.Invalid, "request.Unsubscribe: already replied")
	}
	return r.queryitf.Unsubscribe(r, eventName)
}

// ClientInfo summarizes the request's identity for diagnostics,
// mirroring afb_req_common_get_client_info_hookable's field set.
type ClientInfo struct {
	UID   uint32 `json:"uid,omitempty"`
	GID   uint32 `json:"gid,omitempty"`
	PID   uint32 `json:"pid,omitempty"`
	Label string `json:"label,omitempty"`
	UUID  string `json:"uuid,omitempty"`
	LOA   int    `json:"loa,omitempty"`
}

// ClientInfo builds a diagnostic snapshot of the request's attached
// credential and session.
func (r *Request) ClientInfo() ClientInfo {
	var info ClientInfo
	if cred := r.Credential(); cred != nil {
		info.UID, info.GID, info.PID, info.Label = cred.UID, cred.GID, cred.PID, cred.Label
	}
	if sess := r.Session(); sess != nil {
		info.UUID = sess.UUID()
		info.LOA = sess.LOA(r.apiName)
	}
	return info
}
