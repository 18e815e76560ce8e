package domain

import (
	"errors"
	"fmt"
	"testing"
)

var allKinds = []ErrorKind{
	KindPermissionDenied,
	KindDeviceNotFound,
	KindDeviceBusy,
	KindUnsupportedConstraints,
	KindInsecureContext,
	KindSignalingUnreachable,
	KindNegotiationTimeout,
	KindPeerConnectionFailed,
	KindRoomAllocationFailed,
}

func TestRemediation_DistinctPerKind(t *testing.T) {
	seen := make(map[string]ErrorKind)
	for _, k := range allKinds {
		msg := k.Remediation()
		if msg == "" {
			t.Errorf("%s: empty remediation", k)
		}
		if other, ok := seen[msg]; ok {
			t.Errorf("%s and %s share remediation %q", k, other, msg)
		}
		seen[msg] = k
	}
	if KindUnknown.Remediation() == "" {
		t.Error("unknown kind should still have a generic message")
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := NewError(KindDeviceBusy, "open camera", errors.New("EBUSY"))
	wrapped := fmt.Errorf("acquire: %w", base)

	if got := KindOf(wrapped); got != KindDeviceBusy {
		t.Errorf("expected %s, got %s", KindDeviceBusy, got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("expected unknown kind, got %s", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("expected unknown kind for nil, got %s", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(KindSignalingUnreachable, "connect", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "connect: signaling-unreachable: dial tcp: refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestErrorKind_Fatal(t *testing.T) {
	fatal := map[ErrorKind]bool{
		KindSignalingUnreachable: true,
		KindNegotiationTimeout:   true,
		KindPeerConnectionFailed: true,
	}
	for _, k := range allKinds {
		if k.Fatal() != fatal[k] {
			t.Errorf("%s: expected fatal=%v", k, fatal[k])
		}
	}
}
