package authtree

import "context"

// Checker resolves the Token, LOA and Permission leaf kinds against
// whatever identity the caller carries. Each method may suspend (block on I/O, a remote
// call, etc.); the tree walk short-circuits around them exactly as it
// does around the synchronous leaves.
type Checker interface {
	// CheckToken reports whether the current token is valid.
	CheckToken(ctx context.Context) (bool, error)
	// CheckLOA reports whether the current level of assurance is at
	// least level.
	CheckLOA(ctx context.Context, level int) (bool, error)
	// CheckPermission reports whether the named permission is granted.
	CheckPermission(ctx context.Context, name string) (bool, error)
}

// Eval walks t against checker and returns whether it grants access.
// Or/And apply the standard short-circuit rule: Or stops at the first
// granting branch, And stops at the first denying one. The walk is
// expressed as ordinary Go recursion — the call stack plays the role of
// the explicit continuation stack the C implementation threads by hand
// through a fixed-depth async stack; Go's goroutine stack grows as
// needed, so no separate bookkeeping is required here. (The request
// layer's own async stack is about suspending a whole request across
// multiple authorization decisions, not about walking a single tree.)
func Eval(ctx context.Context, t *Tree, checker Checker) (bool, error) {
	if t == nil {
		return true, nil
	}
	switch t.Kind {
	case No:
		return false, nil
	case Yes:
		return true, nil
	case Token:
		return checker.CheckToken(ctx)
	case LOA:
		return checker.CheckLOA(ctx, t.LOAValue)
	case Permission:
		return checker.CheckPermission(ctx, t.Text)
	case Or:
		ok, err := Eval(ctx, t.First, checker)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		return Eval(ctx, t.Next, checker)
	case And:
		ok, err := Eval(ctx, t.First, checker)
		if err != nil || !ok {
			return false, err
		}
		return Eval(ctx, t.Next, checker)
	case Not:
		ok, err := Eval(ctx, t.First, checker)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, nil
	}
}
