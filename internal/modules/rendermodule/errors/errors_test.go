package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderError(t *testing.T) {
	err := ToolError("run_ffmpeg", errors.New("exit status 1")).
		WithJob("render-L1-A").
		WithLogs([]string{"[Parsed_eq_3] bad option", "Error initializing filters"})

	if err.Type != ErrorTypeTool {
		t.Errorf("expected type %s, got %s", ErrorTypeTool, err.Type)
	}
	if !errors.Is(err, ErrToolFailed) {
		t.Error("expected error to match ErrToolFailed")
	}

	expected := "tool error in run_ffmpeg for job render-L1-A: ffmpeg failed: exit status 1"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}

	diag := err.Diagnostic()
	if !strings.HasSuffix(diag, "Error initializing filters") {
		t.Errorf("expected diagnostic to end with log tail, got %q", diag)
	}
}

func TestErrorHelpers(t *testing.T) {
	var wrapped error = TimeoutError("wait_ffmpeg").WithJob("master-screen")

	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("expected error to match ErrTimeout")
	}
	if !strings.Contains(wrapped.Error(), "likely invalid or unreadable input") {
		t.Errorf("expected timeout hint, got %q", wrapped.Error())
	}
	if GetType(wrapped) != ErrorTypeTimeout {
		t.Errorf("expected type %s, got %s", ErrorTypeTimeout, GetType(wrapped))
	}
	if GetJobID(wrapped) != "master-screen" {
		t.Errorf("expected job id master-screen, got %s", GetJobID(wrapped))
	}
	if GetType(errors.New("plain")) != ErrorTypeInternal {
		t.Error("expected plain errors to classify as internal")
	}
	if GetLogs(errors.New("plain")) != nil {
		t.Error("expected no logs for plain errors")
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name        string
		err         *RenderError
		recoverable bool
	}{
		{"storage error", StorageError("persist", errors.New("disk full")), true},
		{"tool error", ToolError("run_ffmpeg", nil), false},
		{"staging error", StagingError("stage_input", errors.New("no such file")), false},
		{"timeout error", TimeoutError("wait_ffmpeg"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRecoverable(); got != tt.recoverable {
				t.Errorf("expected recoverable=%v, got %v", tt.recoverable, got)
			}
		})
	}
}

func TestSentinelWrapping(t *testing.T) {
	if !errors.Is(StagingError("stage_input", errors.New("x")), ErrStagingFailed) {
		t.Error("expected staging error to match ErrStagingFailed")
	}
	if !errors.Is(StorageError("persist", errors.New("x")), ErrStorageFailed) {
		t.Error("expected storage error to match ErrStorageFailed")
	}
	if !errors.Is(ProbeError("probe", errors.New("x")), ErrProbeFailed) {
		t.Error("expected probe error to match ErrProbeFailed")
	}
	if !errors.Is(ToolError("run", ErrToolFailed), ErrToolFailed) {
		t.Error("expected tool error to keep ErrToolFailed")
	}
}
