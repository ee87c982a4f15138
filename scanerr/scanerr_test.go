package scanerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	crdberrors "github.com/cockroachdb/errors"
)

func TestKinds(t *testing.T) {
	cases := []struct {
		err  error
		want error
		kind string
	}{
		{Planning("t", "c", "", errors.New("unknown column")), ErrPlanning, "planning"},
		{IO("get", []byte("k"), errors.New("disk gone")), ErrIO, "io"},
		{Decode("b", []byte("k"), "int64", []byte("zz"), errors.New("bad int")), ErrDecode, "decode"},
		{Schema("t", "c", nil), ErrSchema, "schema"},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("error in Next: %w", c.err)
		if !errors.Is(wrapped, c.want) {
			t.Fatalf("%v does not match its sentinel", c.err)
		}
		if got := Kind(wrapped); got != c.kind {
			t.Fatalf("expected kind %s, got %s", c.kind, got)
		}
	}
	if Kind(errors.New("x")) != "other" {
		t.Fatal("expected other for a plain error")
	}
}

func TestErrorsCarryContext(t *testing.T) {
	err := Decode("b", []byte("key1"), "int64", []byte("nope"), errors.New("bad int"))
	msg := err.Error()
	for _, want := range []string{"b", "int64", "key1", "nope"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}

	var de *DecodeError
	if !errors.As(err, &de) || de.Expected != "int64" {
		t.Fatal("expected a DecodeError")
	}
}

func TestSchemaIsAssertionFailure(t *testing.T) {
	err := Schema("t", "c", nil)
	if !crdberrors.HasAssertionFailure(err) {
		t.Fatal("expected an assertion failure")
	}
}
