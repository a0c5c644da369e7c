package subexec

import (
	"context"
	"testing"

	"github.com/scoutflo/remote-exec-agent/internal/execresult"
	"github.com/scoutflo/remote-exec-agent/internal/params"
)

func TestBuildArgvSubstitutes(t *testing.T) {
	argv, err := buildArgv("kubectl -n $ns describe pod $pod", []params.Param{
		{Key: "ns", Value: "prod"},
		{Key: "pod", Value: "web-0"},
	})
	if err != nil {
		t.Fatalf("buildArgv: %v", err)
	}
	want := []string{"kubectl", "-n", "prod", "describe", "pod", "web-0"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestBuildArgvMissingParam(t *testing.T) {
	_, err := buildArgv("kubectl -n $ns describe pod $pod", []params.Param{
		{Key: "ns", Value: "prod"},
	})
	if err == nil {
		t.Fatal("expected an error for missing $pod")
	}
	pe, ok := err.(*execresult.ParamError)
	if !ok {
		t.Fatalf("err = %T, want *execresult.ParamError", err)
	}
	if pe.Key != "pod" {
		t.Fatalf("ParamError.Key = %q, want %q", pe.Key, "pod")
	}
}

func TestRunNoPlaceholders(t *testing.T) {
	out, err := Run(context.Background(), "echo hi", nil, 0, OwnPID())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Stdout) == 0 {
		t.Fatal("expected non-empty stdout from echo")
	}
}

func TestRunSkipsNetnsForOwnPid(t *testing.T) {
	self := OwnPID()
	out, err := Run(context.Background(), "echo same-ns", nil, self, self)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Stdout) == 0 {
		t.Fatal("expected output even when peer pid equals our own")
	}
}

func TestRunExitError(t *testing.T) {
	_, err := Run(context.Background(), "false", nil, 0, OwnPID())
	if err == nil {
		t.Fatal("expected an ExitError from `false`")
	}
	ee, ok := err.(*execresult.ExitError)
	if !ok {
		t.Fatalf("err = %T, want *execresult.ExitError", err)
	}
	if ee.Code == nil || *ee.Code != 1 {
		t.Fatalf("ExitError.Code = %v, want 1", ee.Code)
	}
}
