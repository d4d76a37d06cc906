package protocol

import (
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		CodeMalformed,
		CodeTruncated,
		CodeStale,
		CodeTooLarge,
		CodeHistoryOverflow,
		CodeDivergence,
		CodeUnknownSender,
		CodeRateLimit,
		CodeQueueFull,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeOf(t *testing.T) {
	truncated := fmt.Errorf("%w: %w", ErrMalformedPacket, ErrTruncatedPacket)
	if got := CodeOf(truncated); got != CodeTruncated {
		t.Fatalf("CodeOf(truncated)=%q want=%q", got, CodeTruncated)
	}
	if got := CodeOf(fmt.Errorf("size: %w", ErrMalformedPacket)); got != CodeMalformed {
		t.Fatalf("CodeOf(malformed)=%q want=%q", got, CodeMalformed)
	}
	if got := CodeOf(ErrStalePacket); got != CodeStale {
		t.Fatalf("CodeOf(stale)=%q want=%q", got, CodeStale)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil)=%q want empty", got)
	}
}
