package memdoc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vango-dev/yrelay/pkg/document"
)

func stateVector(t *testing.T, d document.Doc) []byte {
	t.Helper()
	txn := d.BeginRead()
	defer txn.Release()
	sv, err := txn.StateVector()
	if err != nil {
		t.Fatalf("StateVector() error = %v", err)
	}
	return sv
}

func diff(t *testing.T, d document.Doc, sv []byte) []byte {
	t.Helper()
	txn := d.BeginRead()
	defer txn.Release()
	out, err := txn.Diff(sv)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	return out
}

func apply(t *testing.T, d document.Doc, update []byte) {
	t.Helper()
	txn := d.BeginWrite()
	if code := txn.Apply(update); code != document.ApplyOK {
		txn.Abort()
		t.Fatalf("Apply() = %d, want ApplyOK", code)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func sameOps(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Replica != b[i].Replica || a[i].Clock != b[i].Clock || !bytes.Equal(a[i].Payload, b[i].Payload) {
			return false
		}
	}
	return true
}

func TestEmptyDocument(t *testing.T) {
	d := New(1)
	sv := stateVector(t, d)
	if !bytes.Equal(sv, []byte{0x00}) {
		t.Errorf("StateVector() = %v, want [0]", sv)
	}
	if out := diff(t, d, nil); len(out) != 0 {
		t.Errorf("Diff(nil) = %v, want empty", out)
	}
}

func TestEditAndSync(t *testing.T) {
	a := New(1)
	b := New(2)

	u1, err := a.Edit([]byte("hello"))
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := a.Edit([]byte("world")); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	apply(t, b, u1)
	for _, op := range b.Ops() {
		if op.Replica != a.Replica() {
			t.Errorf("op from replica %d, want %d", op.Replica, a.Replica())
		}
	}

	// b holds op 0 of replica 1 and needs only op 1.
	missing := diff(t, a, stateVector(t, b))
	ops, err := decodeUpdate(missing)
	if err != nil {
		t.Fatalf("decodeUpdate() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Clock != 1 || string(ops[0].Payload) != "world" {
		t.Fatalf("diff ops = %+v, want replica 1 clock 1", ops)
	}
	apply(t, b, missing)

	if !sameOps(a.Ops(), b.Ops()) {
		t.Errorf("replicas diverged: a=%+v b=%+v", a.Ops(), b.Ops())
	}
	if out := diff(t, a, stateVector(t, b)); len(out) != 0 {
		t.Errorf("Diff after sync = %v, want empty", out)
	}
}

func TestApplyIsIdempotentAndOrderInsensitive(t *testing.T) {
	src1 := New(1)
	src2 := New(2)
	u1, _ := src1.Edit([]byte("a"))
	u2, _ := src1.Edit([]byte("b"))
	u3, _ := src2.Edit([]byte("c"))

	x := New(9)
	apply(t, x, u1)
	apply(t, x, u2)
	apply(t, x, u3)
	apply(t, x, u1)

	y := New(10)
	apply(t, y, u3)
	apply(t, y, u2)
	apply(t, y, u2)
	apply(t, y, u1)

	if x.Len() != 3 {
		t.Errorf("Len() = %d, want 3", x.Len())
	}
	if !sameOps(x.Ops(), y.Ops()) {
		t.Errorf("order-dependent merge: x=%+v y=%+v", x.Ops(), y.Ops())
	}
	if !bytes.Equal(stateVector(t, x), stateVector(t, y)) {
		t.Error("state vectors differ after converging")
	}
}

func TestStateVectorStopsAtGap(t *testing.T) {
	src := New(1)
	u0, _ := src.Edit([]byte("0"))
	_, _ = src.Edit([]byte("1"))
	u2, _ := src.Edit([]byte("2"))

	d := New(5)
	apply(t, d, u0)
	apply(t, d, u2)

	sv, err := decodeStateVector(stateVector(t, d))
	if err != nil {
		t.Fatalf("decodeStateVector() error = %v", err)
	}
	if sv[1] != 1 {
		t.Errorf("next clock = %d, want 1", sv[1])
	}
}

func TestApplyMalformed(t *testing.T) {
	tests := []struct {
		name   string
		update []byte
	}{
		{"empty", []byte{}},
		{"truncated", []byte{0x01, 0x01}},
		{"trailing", append(encodeUpdate([]Op{{Replica: 1, Payload: []byte("x")}}), 0x00)},
		{"bad_length", []byte{0x01, 0x01, 0x00, 0x7F}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(1)
			txn := d.BeginWrite()
			if code := txn.Apply(tc.update); code != ApplyMalformed {
				t.Errorf("Apply() = %d, want %d", code, ApplyMalformed)
			}
			txn.Abort()
			if d.Len() != 0 {
				t.Errorf("Len() = %d, want 0", d.Len())
			}
		})
	}
}

func TestAbortDiscardsStaged(t *testing.T) {
	src := New(1)
	u, _ := src.Edit([]byte("x"))

	d := New(2)
	txn := d.BeginWrite()
	if code := txn.Apply(u); code != document.ApplyOK {
		t.Fatalf("Apply() = %d", code)
	}
	txn.Abort()
	txn.Abort() // second abort is a no-op

	if d.Len() != 0 {
		t.Errorf("Len() = %d after abort, want 0", d.Len())
	}
	if code := txn.Apply(u); code != ApplyDone {
		t.Errorf("Apply() after abort = %d, want %d", code, ApplyDone)
	}
}

func TestDiffMalformedVector(t *testing.T) {
	d := New(1)
	txn := d.BeginRead()
	defer txn.Release()
	_, err := txn.Diff([]byte{0x02, 0x01})
	if !errors.Is(err, ErrMalformedVector) {
		t.Errorf("Diff() error = %v, want ErrMalformedVector", err)
	}
}

func TestDestroy(t *testing.T) {
	d := New(1)
	d.Destroy()

	txn := d.BeginRead()
	if _, err := txn.StateVector(); !errors.Is(err, document.ErrDestroyed) {
		t.Errorf("StateVector() error = %v, want ErrDestroyed", err)
	}
	txn.Release()

	w := d.BeginWrite()
	if code := w.Apply([]byte{0x00}); code != ApplyDestroyed {
		t.Errorf("Apply() = %d, want %d", code, ApplyDestroyed)
	}
	w.Abort()

	if _, err := d.Edit([]byte("x")); !errors.Is(err, document.ErrDestroyed) {
		t.Errorf("Edit() error = %v, want ErrDestroyed", err)
	}
}

func TestStoreOpenIsIdempotent(t *testing.T) {
	s := NewStore(0)
	a, err := s.Open("r1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, _ := s.Open("r1")
	c, _ := s.Open("r2")
	if a != b {
		t.Error("Open returned different documents for the same name")
	}
	if a == c {
		t.Error("Open returned the same document for different names")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestReleaseTwice(t *testing.T) {
	d := New(1)
	txn := d.BeginRead()
	txn.Release()
	txn.Release()

	// A writer can still acquire the lock.
	w := d.BeginWrite()
	w.Abort()
}

func FuzzDecodeUpdate(f *testing.F) {
	f.Add([]byte{})
	f.Add(encodeUpdate([]Op{{Replica: 3, Clock: 7, Payload: []byte("p")}}))
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = decodeUpdate(data)
		_, _ = decodeStateVector(data)
	})
}
