package scheduler

import (
	"regexp"
	"strings"
	"testing"
)

func TestInstanceIDFor_IsStableAndDNSLabelSafe(t *testing.T) {
	a := instanceIDFor("Worker_1.internal")
	b := instanceIDFor("Worker_1.internal")
	if a != b {
		t.Fatalf("instance id not stable: %q vs %q", a, b)
	}

	if !regexp.MustCompile(`^[a-z0-9-]+-[0-9a-f]{8}$`).MatchString(a) {
		t.Errorf("instance id %q is not DNS-label-safe hostname + 4-byte hex", a)
	}
	if !strings.HasPrefix(a, "worker-1-internal-") {
		t.Errorf("unexpected sanitized hostname in %q", a)
	}
}

func TestInstanceIDFor_DifferentHostsDiffer(t *testing.T) {
	if instanceIDFor("node-a") == instanceIDFor("node-b") {
		t.Fatal("distinct hostnames must yield distinct instance ids")
	}
}

func TestSuffixedName(t *testing.T) {
	id := instanceIDFor("node-a")
	name := suffixedName("test", id)
	if !strings.HasPrefix(name, "test-") || !strings.HasSuffix(name, id) {
		t.Errorf("suffixed name %q must be <name>-<instance-id>", name)
	}
}
