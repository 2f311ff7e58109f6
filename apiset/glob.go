package apiset

import "unicode"

// glob is the wildcard character recognized by Match, mirroring
// globmatch.h's GLOB = '*'. Only this single wildcard form is
// supported; there is no character-class or '?' syntax.
const glob = '*'

// MatchFlag mirrors a subset of the POSIX fnmatch flags the original
// globmatch.c threads through its scoring matcher.
type MatchFlag int

const (
	// PathName forbids the wildcard from matching a '/', the way
	// FNM_PATHNAME restricts path-segment globs.
	PathName MatchFlag = 1 << iota
	// CaseFold makes the match case-insensitive.
	CaseFold
)

// Match scores how well str matches the glob pattern pat. It returns 0
// for no match, or a positive score that grows with how much of the
// pattern matched literally before any wildcard — so among several
// patterns that all match the same string, the most specific (longest
// literal prefix) wins. This is a direct port of globmatch.c's
// recursive `match`, generalized to runes instead of bytes.
func Match(pat, str string, flags MatchFlag) uint {
	return match([]rune(pat), []rune(str), flags)
}

// MatchString is the case-sensitive, no-flags convenience form,
// matching globmatch()'s signature.
func MatchString(pat, str string) uint {
	return Match(pat, str, 0)
}

// MatchFold is the case-insensitive convenience form, matching
// globmatchi().
func MatchFold(pat, str string) uint {
	return Match(pat, str, CaseFold)
}

func eq(flags MatchFlag, a, b rune) bool {
	if flags&CaseFold != 0 {
		return unicode.ToLower(a) == unicode.ToLower(b)
	}
	return a == b
}

func match(pat, str []rune, flags MatchFlag) uint {
	var r uint = 1
	var pi, si int

	// scan the literal prefix before any glob rune
	for pi < len(pat) && pat[pi] != glob {
		var x rune
		hasX := si < len(str)
		if hasX {
			x = str[si]
		}
		if !hasX || !eq(flags, pat[pi], x) {
			return 0
		}
		pi++
		si++
		r++
	}
	if pi == len(pat) {
		if si == len(str) {
			return r
		}
		return 0
	}

	// consumed the glob rune itself
	pi++
	if pi == len(pat) {
		// glob with nothing following: matches the rest of str,
		// unless PathName forbids a '/' anywhere in what remains.
		if flags&PathName != 0 {
			for _, x := range str[si:] {
				if x == '/' {
					return 0
				}
			}
		}
		return r
	}

	c := pat[pi]
	var best uint
	for si < len(str) {
		x := str[si]
		si++
		if eq(flags, c, x) {
			if rr := match(pat[pi+1:], str[si:], flags); rr > best {
				best = rr
			}
		} else if flags&PathName != 0 && x == '/' {
			return 0
		}
	}
	if best == 0 {
		return 0
	}
	return best + r
}
