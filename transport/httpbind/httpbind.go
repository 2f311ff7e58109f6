// Package httpbind is a thin, explicitly out-of-scope demonstration of
// how an HTTP transport feeds the request core; it exists only to show
// the seam the core exposes, binding its JSON call envelope onto an
// ada mux.
//
// It is not part of the core's test surface and carries no binder
// business logic of its own: one route decodes a JSON envelope
// {api, verb, params: [...]}, builds a request.Request against it, and
// writes back whatever the verb replies.
package httpbind

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/status"
)

// callEnvelope is the wire shape of an incoming HTTP call: one JSON
// value per parameter, carried as the binder's predefined "json" type.
type callEnvelope struct {
	API    string            `json:"api"`
	Verb   string            `json:"verb"`
	Params []json.RawMessage `json:"params"`
}

// replyEnvelope is the HTTP reply shape: the status text plus a list of
// JSON values. It differs from rpcproto's V1 JSON-legacy
// (object, error, info) shape.
type replyEnvelope struct {
	Status  string            `json:"status"`
	Replies []json.RawMessage `json:"replies,omitempty"`
}

// Binding wires one apiset.Set (request.APISet) and one data.Registry
// to an ada mux under basePath.
type Binding struct {
	apiset   request.APISet
	registry *data.Registry
	jsonType *data.Type
	service  string
}

// New resolves the "json" predefined type from registry (registered by
// every data.NewRegistry) and returns a Binding ready to mount.
func New(service string, apiset request.APISet, registry *data.Registry) (*Binding, error) {
	jsonType, err := registry.LookupTypeByID(data.PredefinedJSON)
	if err != nil {
		return nil, err
	}
	return &Binding{apiset: apiset, registry: registry, jsonType: jsonType, service: service}, nil
}

// Mount builds an ada.Server with a standard middleware chain
// (requestid, recover, log, cors, telemetry) and registers
// POST {basePath}/call.
func (b *Binding) Mount(basePath string) *ada.Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(b.service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	group := mux.Group(basePath)
	group.POST("/call", b.handleCall)

	return mux
}

// handleCall decodes one callEnvelope, converts each parameter to a
// data.Value of the "json" type, and drives it through request.New +
// Process, replying synchronously once the verb calls Reply.
func (b *Binding) handleCall(w http.ResponseWriter, r *http.Request) {
	var env callEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeReply(w, status.ReplyInternalError, nil)
		return
	}

	params := make([]*data.Value, 0, len(env.Params))
	for _, raw := range env.Params {
		v, err := b.registry.Copy(b.jsonType, []byte(raw))
		if err != nil {
			writeReply(w, status.ReplyInternalError, nil)
			return
		}
		params = append(params, v)
	}

	done := make(chan struct{})
	var reply replyEnvelope
	q := &httpQuery{binding: b, done: done, reply: &reply}

	req := request.New(q, env.API, env.Verb, params)
	req.Process(b.apiset)

	<-done
	writeReply(w, statusFromText(reply.Status), reply.Replies)
}

func writeReply(w http.ResponseWriter, stat status.Reply, replies []json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	if !stat.OK() {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(replyEnvelope{Status: stat.String(), Replies: replies})
}

func statusFromText(text string) status.Reply {
	for _, r := range []status.Reply{
		status.ReplyOK, status.ReplyOutOfMemory, status.ReplyInternalError,
		status.ReplyNotAvailable, status.ReplyUnknownAPI, status.ReplyBadAPIState,
		status.ReplyUnknownVerb, status.ReplyInvalidToken, status.ReplyInsufficientScope,
		status.ReplyNoReply, status.ReplyDisconnected, status.ReplyUnauthorized,
		status.ReplyForbidden,
	} {
		if r.String() == text {
			return r
		}
	}
	return status.ReplyInternalError
}

// httpQuery implements request.QueryItf for one in-flight HTTP call.
// Subscribe/Unsubscribe are unsupported: an HTTP request/reply cycle
// has no standing connection to push events back over, unlike the RPC
// stub's persistent peer.
type httpQuery struct {
	binding *Binding
	done    chan struct{}
	reply   *replyEnvelope
}

func (q *httpQuery) Reply(_ *request.Request, stat status.Reply, replies []*data.Value) {
	q.reply.Status = stat.String()
	for _, v := range replies {
		if b, err := q.binding.registry.Convert(v, q.binding.jsonType); err == nil {
			ro, _ := b.GetRO()
			q.reply.Replies = append(q.reply.Replies, json.RawMessage(ro))
			b.Unref()
		}
		v.Unref()
	}
	close(q.done)
}

func (q *httpQuery) Unref(_ *request.Request) {}

func (q *httpQuery) Subscribe(_ *request.Request, _ string) error {
	return status.New(status.NotSupported, "httpbind.Subscribe")
}

func (q *httpQuery) Unsubscribe(_ *request.Request, _ string) error {
	return status.New(status.NotSupported, "httpbind.Unsubscribe")
}
