package apiset

import "testing"

func TestMatchLiteralExact(t *testing.T) {
	if MatchString("hello", "hello") == 0 {
		t.Fatalf("expected exact literal match")
	}
	if MatchString("hello", "hellx") != 0 {
		t.Fatalf("expected literal mismatch to score 0")
	}
}

func TestMatchTrailingGlobMatchesSuffix(t *testing.T) {
	if MatchString("foo*", "foobar") == 0 {
		t.Fatalf("expected foo* to match foobar")
	}
	if MatchString("foo*", "foo") == 0 {
		t.Fatalf("expected foo* to match foo itself (empty glob)")
	}
	if MatchString("foo*", "fo") != 0 {
		t.Fatalf("expected foo* not to match a shorter literal prefix")
	}
}

func TestMatchLeadingGlob(t *testing.T) {
	if MatchString("*bar", "foobar") == 0 {
		t.Fatalf("expected *bar to match foobar")
	}
	if MatchString("*bar", "foobaz") != 0 {
		t.Fatalf("expected *bar not to match foobaz")
	}
}

func TestMatchMiddleGlobMatchesAnyInfixLength(t *testing.T) {
	shortScore := MatchString("a*z", "az")
	longScore := MatchString("a*z", "abcz")
	if shortScore == 0 || longScore == 0 {
		t.Fatalf("expected both to match: short=%d long=%d", shortScore, longScore)
	}
}

func TestMatchPathNameBlocksSlashCrossing(t *testing.T) {
	if MatchString("*", "a/b") == 0 {
		t.Fatalf("a plain * should cross slashes without PathName")
	}
	if Match("*", "a/b", PathName) != 0 {
		t.Fatalf("PathName should forbid * from crossing a slash")
	}
	if Match("a*", "a/b", PathName) != 0 {
		t.Fatalf("PathName should forbid a* from crossing a slash")
	}
}

func TestMatchFoldIsCaseInsensitive(t *testing.T) {
	if MatchString("Hello", "hello") != 0 {
		t.Fatalf("case-sensitive match should not fold")
	}
	if MatchFold("Hello", "hello") == 0 {
		t.Fatalf("case-folded match should succeed")
	}
}
