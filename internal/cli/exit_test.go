package cli

import "testing"

func TestExitError(t *testing.T) {
	e := &ExitError{code: 3, message: "boom"}
	if e.Error() != "boom" || e.Code() != 3 || e.Message() != "boom" {
		t.Fatalf("unexpected ExitError: %q %d %q", e.Error(), e.Code(), e.Message())
	}
	silent := &ExitError{code: 1}
	if silent.Error() != "exit 1" || silent.Message() != "" {
		t.Fatalf("unexpected silent ExitError: %q %q", silent.Error(), silent.Message())
	}
	var nilErr *ExitError
	if nilErr.Code() != 1 || nilErr.Error() != "" {
		t.Fatal("nil ExitError should report code 1 and no message")
	}
}
