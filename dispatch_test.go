package ember

import "testing"

func TestRegisterFormatterAssignsIncreasingIDs(t *testing.T) {
	before := len(registry)

	id1 := RegisterFormatter(Formatter{TypeID: func() TypeDescriptor { return TypeDescriptor{Name: "a"} }})
	id2 := RegisterFormatter(Formatter{TypeID: func() TypeDescriptor { return TypeDescriptor{Name: "b"} }})

	if id1 == WraparoundMarker || id2 == WraparoundMarker {
		t.Fatal("a registered formatter must never receive the WraparoundMarker ID")
	}
	if id2 <= id1 {
		t.Fatalf("expected strictly increasing IDs, got %d then %d", id1, id2)
	}
	if len(registry) != before+2 {
		t.Fatalf("registry grew by %d, want 2", len(registry)-before)
	}
}

func TestLookupFormatter(t *testing.T) {
	f := Formatter{TypeID: func() TypeDescriptor { return TypeDescriptor{Name: "lookup-me"} }}
	id := RegisterFormatter(f)

	got := lookupFormatter(id)
	if got == nil {
		t.Fatal("expected lookupFormatter to find the registered formatter")
	}
	if got.TypeID().Name != "lookup-me" {
		t.Fatalf("TypeID().Name = %q, want %q", got.TypeID().Name, "lookup-me")
	}

	if got := lookupFormatter(WraparoundMarker); got != nil {
		t.Fatal("expected lookupFormatter(WraparoundMarker) to return nil")
	}
	if got := lookupFormatter(FormatterID(999999)); got != nil {
		t.Fatal("expected lookupFormatter of an unknown ID to return nil")
	}
}

func TestPutHandleGetHandleRoundTrip(t *testing.T) {
	buf := make([]byte, handleSize+4)
	putHandle(buf, FormatterID(0xDEADBEEF))
	if got := getHandle(buf); got != FormatterID(0xDEADBEEF) {
		t.Fatalf("getHandle() = %#x, want %#x", uint64(got), uint64(0xDEADBEEF))
	}
}
