package data

import "testing"

func TestConvertSameTypeIsAddRef(t *testing.T) {
	reg := NewRegistry()
	str, err := reg.LookupType("stringz")
	if err != nil {
		t.Fatal(err)
	}
	v, err := reg.Copy(str, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Unref()

	cv, err := reg.Convert(v, str)
	if err != nil {
		t.Fatal(err)
	}
	if cv != v {
		t.Fatalf("expected same Value pointer, got different value")
	}
	if got := v.RefCount(); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}
	cv.Unref()
	if got := v.RefCount(); got != 1 {
		t.Fatalf("refcount after unref = %d, want 1", got)
	}
}

func TestDisposeRunsExactlyOnce(t *testing.T) {
	reg := NewRegistry()
	str, _ := reg.LookupType("stringz")
	calls := 0
	v, err := reg.Raw(str, []byte("x"), func() { calls++ })
	if err != nil {
		t.Fatal(err)
	}

	const k = 5
	for i := 0; i < k; i++ {
		v.AddRef()
	}
	for i := 0; i < k; i++ {
		v.Unref()
	}
	if calls != 0 {
		t.Fatalf("dispose called early: %d", calls)
	}
	v.Unref() // drop the original ref
	if calls != 1 {
		t.Fatalf("dispose called %d times, want 1", calls)
	}
}

func TestNotifyChangedInvalidatesFutureConvertsOnly(t *testing.T) {
	reg := NewRegistry()
	i32, _ := reg.LookupType("i32")
	ba, _ := reg.LookupType("bytearray")

	// The counting converter is added first so it wins the i32->bytearray
	// tie against the predefined byte-order converter added below.
	runs := 0
	if err := reg.AddConverter(i32, ba, func(in *Value) (*Value, error) {
		runs++
		return reg.Copy(ba, in.Bytes())
	}); err != nil {
		t.Fatal(err)
	}
	if err := RegisterByteOrderConversions(reg); err != nil {
		t.Fatal(err)
	}

	v, err := reg.Copy(i32, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Unref()

	first, err := reg.Convert(v, ba)
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Convert(v, ba)
	if err != nil {
		t.Fatal(err)
	}
	if runs != 1 {
		t.Fatalf("expected one conversion run before notify, got %d", runs)
	}
	second.Unref()

	v.NotifyChanged()

	third, err := reg.Convert(v, ba)
	if err != nil {
		t.Fatal(err)
	}
	if runs != 2 {
		t.Fatalf("expected a second conversion run after notify, got %d", runs)
	}

	// first is still independently valid: it holds its own reference.
	if first.RefCount() < 1 {
		t.Fatalf("first conversion result became invalid after notify")
	}
	first.Unref()
	third.Unref()
}

func TestOpaqueIDsAreUnique(t *testing.T) {
	reg := NewRegistry()
	op, _ := reg.LookupType("opaque")
	a, _ := reg.Alloc(op, 0)
	b, _ := reg.Alloc(op, 0)
	defer a.Unref()
	defer b.Unref()

	reg.Opacify(a)
	reg.Opacify(b)
	if a.OpaqueID() == 0 || b.OpaqueID() == 0 {
		t.Fatalf("Opacify left OpaqueID unset: a=%d b=%d", a.OpaqueID(), b.OpaqueID())
	}
	if a.OpaqueID() == b.OpaqueID() {
		t.Fatalf("opaque IDs collide")
	}
}

func TestOpacifyIsIdempotentAndLooksUp(t *testing.T) {
	reg := NewRegistry()
	op, _ := reg.LookupType("opaque")
	v, err := reg.Alloc(op, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Unref()

	id1 := reg.Opacify(v)
	id2 := reg.Opacify(v)
	if id1 != id2 {
		t.Fatalf("Opacify not idempotent: %d != %d", id1, id2)
	}

	got, typ, err := reg.GetByOpaqueID(id1)
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Fatalf("GetByOpaqueID returned a different value")
	}
	if typ != op {
		t.Fatalf("GetByOpaqueID returned the wrong type")
	}

	if _, _, err := reg.GetByOpaqueID(id1 + 1000); err == nil {
		t.Fatalf("expected not_found for an unknown opaque id")
	}
}

func TestConvertPrefersDirectEdgeOverLongerPath(t *testing.T) {
	reg := NewRegistry()
	typA, _ := reg.RegisterType("a", true)
	typB, _ := reg.RegisterType("b", true)
	typC, _ := reg.RegisterType("c", true)

	viaB := false
	direct := false

	_ = reg.AddConverter(typA, typB, func(in *Value) (*Value, error) {
		viaB = true
		return reg.Copy(typB, in.Bytes())
	})
	_ = reg.AddConverter(typB, typC, func(in *Value) (*Value, error) {
		return reg.Copy(typC, in.Bytes())
	})
	_ = reg.AddConverter(typA, typC, func(in *Value) (*Value, error) {
		direct = true
		return reg.Copy(typC, in.Bytes())
	})

	v, _ := reg.Copy(typA, []byte("z"))
	defer v.Unref()

	out, err := reg.Convert(v, typC)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Unref()

	if !direct || viaB {
		t.Fatalf("expected direct edge a->c to be used, direct=%v viaB=%v", direct, viaB)
	}
}

func TestConvertThreeStepChain(t *testing.T) {
	reg := NewRegistry()
	typA, _ := reg.RegisterType("chain-a", true)
	typB, _ := reg.RegisterType("chain-b", true)
	typC, _ := reg.RegisterType("chain-c", true)
	typD, _ := reg.RegisterType("chain-d", true)

	_ = reg.AddConverter(typA, typB, func(in *Value) (*Value, error) { return reg.Copy(typB, append(in.Bytes(), 'b')) })
	_ = reg.AddConverter(typB, typC, func(in *Value) (*Value, error) { return reg.Copy(typC, append(in.Bytes(), 'c')) })
	_ = reg.AddConverter(typC, typD, func(in *Value) (*Value, error) { return reg.Copy(typD, append(in.Bytes(), 'd')) })

	v, _ := reg.Copy(typA, []byte("a"))
	defer v.Unref()

	out, err := reg.Convert(v, typD)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Unref()

	if got, want := string(out.Bytes()), "abcd"; got != want {
		t.Fatalf("chained conversion = %q, want %q", got, want)
	}
}
