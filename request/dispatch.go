package request

import (
	"context"
	"strings"

	"github.com/redpesk-core/go-binder/authtree"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/status"
)

// importCredential decodes a portable on-behalf credential string,
// matching afb_req_common_on_behalf_cred_export's counterpart on the
// importing side. The "enc:" prefix selects the AES-GCM sealed form;
// anything else is tried as a signed JWT.
func importCredential(s string, key []byte) (identity.Credential, error) {
	if strings.HasPrefix(s, "enc:") {
		return identity.ImportEncrypted(s, key)
	}
	return identity.ImportSigned(s, key)
}

// SessionFlag bits accompany an authtree check to also touch session
// state. Go gives these named bits rather than the original's packed
// 32-bit sessionflags word (its AFB_SESSION_* header was not part of
// the retrieval pack, so the numeric layout here is newly assigned
// rather than wire-exact).
type SessionFlag uint32

const (
	// SessionClose marks the request so that its final release drops the
	// session's cookie for the targeted api (see Request.CloseSession).
	SessionClose SessionFlag = 1 << 0
	// SessionLOAMask is ANDed against the flag word to extract the
	// minimum level of assurance the check also enforces.
	SessionLOAMask SessionFlag = 0xff << 8
)

// LOA extracts the level of assurance packed into flags.
func (f SessionFlag) LOA() int { return int((f & SessionLOAMask) >> 8) }

// WithLOA packs level into the LOA bits of flags.
func WithLOA(flags SessionFlag, level int) SessionFlag {
	return (flags &^ SessionLOAMask) | (SessionFlag(level<<8) & SessionLOAMask)
}

// Process looks up the targeted api in set and hands the request to
// it, replying with a standard error if the api is absent. Process
// always takes ownership of one reference to req.
func (r *Request) Process(set APISet) {
	api, err := set.GetAPI(r.apiName)
	if err != nil {
		if status.Is(err, status.NotFound) {
			r.Reply(status.ReplyUnknownAPI, nil)
		} else {
			r.Reply(status.ReplyBadAPIState, nil)
		}
		r.Unref()
		return
	}
	r.mu.Lock()
	r.api = api
	r.mu.Unlock()
	api.Process(r)
	r.Unref()
}

// onBehalfCredential is the permission name afb_permission_on_behalf_cred
// checks before letting a request adopt an imported credential.
const onBehalfCredential = "on_behalf_credential"

// ProcessOnBehalf behaves like Process, but first imports a portable
// credential string, checks the on_behalf_credential
// permission, and only on success attaches it to the request before
// dispatch; a denial replies insufficient_scope instead of dispatching.
// An empty import skips credential substitution (and the permission
// check) entirely.
func (r *Request) ProcessOnBehalf(ctx context.Context, set APISet, importedCred string, key []byte, permission PermissionFunc) {
	if importedCred == "" {
		r.Process(set)
		return
	}
	cred, err := importCredential(importedCred, key)
	if err != nil {
		r.Reply(status.ReplyInsufficientScope, nil)
		r.Unref()
		return
	}
	if permission == nil {
		r.Reply(status.ReplyInsufficientScope, nil)
		r.Unref()
		return
	}
	ok, chkErr := permission(ctx, r, onBehalfCredential)
	if chkErr != nil || !ok {
		r.Reply(status.ReplyInsufficientScope, nil)
		r.Unref()
		return
	}
	r.SetCredential(&cred)
	r.Process(set)
}

// tokenChecker adapts a *Request to authtree.Checker, resolving Token
// leaves against the request's own validation state and Permission
// leaves through the permission func.
type tokenChecker struct {
	req        *Request
	permission func(ctx context.Context, req *Request, name string) (bool, error)
}

func (c tokenChecker) CheckToken(ctx context.Context) (bool, error) {
	return c.req.validateToken(ctx)
}

func (c tokenChecker) CheckLOA(_ context.Context, level int) (bool, error) {
	return c.req.HasLOA(level), nil
}

func (c tokenChecker) CheckPermission(ctx context.Context, name string) (bool, error) {
	if c.permission == nil {
		return false, status.New(status.NotSupported, "request.CheckPermission")
	}
	return c.permission(ctx, c.req, name)
}

// validateToken resolves whether the request's attached token is
// valid, caching the result so repeated auth checks against the same
// request (an Or/And tree visits several leaves) never re-run it.
func (r *Request) validateToken(ctx context.Context) (bool, error) {
	r.mu.Lock()
	switch {
	case r.validated:
		r.mu.Unlock()
		return true, nil
	case r.invalidated:
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	ok := r.token != nil
	r.mu.Lock()
	if ok {
		r.validated = true
	} else {
		r.invalidated = true
	}
	r.mu.Unlock()
	return ok, nil
}

// PermissionFunc resolves a named permission against a request. No
// implementation ships in this module; callers pass one in (for
// example through stub.Config.Permission).
type PermissionFunc func(ctx context.Context, req *Request, name string) (bool, error)

// CheckAndSetSessionAsync is the request-layer entry point tying
// together session-flag handling and an authtree walk: it applies
// flags (closing the session, requiring a minimum LOA) before
// evaluating auth, short-circuiting to a fast "granted" when there is
// nothing to check at all. It replies with an insufficient-scope error
// itself when the check fails, matching
// afb_req_common_check_and_set_session_async's error-reporting
// responsibility.
func (r *Request) CheckAndSetSessionAsync(ctx context.Context, auth *authtree.Tree, flags SessionFlag, permission PermissionFunc) (bool, error) {
	if flags == 0 && auth == nil {
		return true, nil
	}

	if flags&SessionClose != 0 {
		r.CloseSession()
	}
	if loa := flags.LOA(); loa > 0 && !r.HasLOA(loa) {
		r.Reply(status.ReplyInsufficientScope, nil)
		return false, nil
	}

	if auth == nil {
		ok, err := r.validateToken(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			r.Reply(status.ReplyInsufficientScope, nil)
		}
		return ok, nil
	}

	ok, err := authtree.Eval(ctx, auth, tokenChecker{req: r, permission: permission})
	if err != nil {
		return false, err
	}
	if !ok {
		r.Reply(status.ReplyInsufficientScope, nil)
	}
	return ok, nil
}
