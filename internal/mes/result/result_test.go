package result

import (
	"errors"
	"strconv"
	"testing"
)

var errBoom = errors.New("boom")

func TestUnwrap(t *testing.T) {
	v, err := Ok(42).Unwrap()
	if err != nil || v != 42 {
		t.Errorf("Ok.Unwrap() = %d, %v", v, err)
	}

	v, err = Err[int](errBoom).Unwrap()
	if !errors.Is(err, errBoom) || v != 0 {
		t.Errorf("Err.Unwrap() = %d, %v, want zero value and boom", v, err)
	}
}

func TestBindShortCircuits(t *testing.T) {
	calls := 0
	step := func(n int) Result[int] {
		calls++
		return Ok(n + 1)
	}

	r := Bind(Bind(Ok(1), step), step)
	if v := r.Value(); v != 3 || calls != 2 {
		t.Errorf("chain value = %d calls = %d, want 3 and 2", v, calls)
	}

	calls = 0
	r = Bind(Bind(Err[int](errBoom), step), step)
	if calls != 0 {
		t.Errorf("steps ran %d times after failure, want 0", calls)
	}
	if !errors.Is(r.ErrValue(), errBoom) {
		t.Errorf("err = %v, want boom carried through", r.ErrValue())
	}
}

func TestMap(t *testing.T) {
	r := Map(Ok(7), strconv.Itoa)
	if v := r.Value(); v != "7" {
		t.Errorf("mapped value = %q, want \"7\"", v)
	}

	r = Map(Err[int](errBoom), strconv.Itoa)
	if r.IsOk() {
		t.Error("mapping a failure should stay a failure")
	}
}

func TestMatch(t *testing.T) {
	var got int
	Ok(5).Match(func(v int) { got = v }, func(error) { t.Error("onErr called for Ok") })
	if got != 5 {
		t.Errorf("onOk got %d, want 5", got)
	}

	var gotErr error
	Err[int](errBoom).Match(func(int) { t.Error("onOk called for Err") }, func(e error) { gotErr = e })
	if !errors.Is(gotErr, errBoom) {
		t.Errorf("onErr got %v, want boom", gotErr)
	}
}

func TestFrom(t *testing.T) {
	if r := From(strconv.Atoi("12")); !r.IsOk() || r.Value() != 12 {
		t.Errorf("From(valid) = %v", r)
	}
	if r := From(strconv.Atoi("x")); r.IsOk() {
		t.Error("From(invalid) should be a failure")
	}
}
