package calls

import (
	"time"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/scheduler"
	"github.com/redpesk-core/go-binder/status"
)

// CallSync is the blocking counterpart of Call: it suspends the
// calling goroutine on a scheduler.Lock until the callee replies or
// timeout elapses (timeout<=0 waits forever), then returns the reply
// directly instead of invoking a callback. Grounded on afb-calls.c's
// afb_calls_call_sync/subcall_sync (process_sync + call_sync_leave).
//
// maxReplies truncates the returned slice the way call_sync's fixed
// caller-supplied array truncates extra reply values; 0 means
// unlimited.
func CallSync(
	set request.APISet,
	apiName, verbName string,
	params []*data.Value,
	session *identity.Session,
	caller Caller,
	target Target,
	flags Flags,
	timeout time.Duration,
	maxReplies int,
) (status.Reply, []*data.Value) {
	var resultStat status.Reply = status.ReplyNoReply
	var resultReplies []*data.Value

	timedOut := scheduler.SchedSync(timeout, func(lock *scheduler.Lock) {
		Call(set, apiName, verbName, params, session, caller, target, flags,
			func(stat status.Reply, replies []*data.Value) {
				if maxReplies > 0 && len(replies) > maxReplies {
					replies = replies[:maxReplies]
				}
				resultStat = stat
				resultReplies = replies
				lock.Leave()
			})
	})
	if timedOut {
		return status.ReplyNoReply, nil
	}
	return resultStat, resultReplies
}
