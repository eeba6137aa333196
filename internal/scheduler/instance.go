package scheduler

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"strings"
)

// InstanceID returns this node's stable instance id:
// <hostname>-<first 4 bytes of md5(hostname), hex>. Job names installed by a
// node carry the id as a suffix so crashed-node residue can be purged on
// recovery. MD5 is for length, not security.
func InstanceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return instanceIDFor(hostname)
}

func instanceIDFor(hostname string) string {
	sum := md5.Sum([]byte(hostname))
	return sanitizeHostname(hostname) + "-" + hex.EncodeToString(sum[:4])
}

// sanitizeHostname makes the hostname DNS-label-safe: lower-cased, with
// anything outside [a-z0-9-] replaced by '-'.
func sanitizeHostname(hostname string) string {
	lower := strings.ToLower(hostname)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// suffixedName disambiguates a logical job name per node.
func suffixedName(name, instanceID string) string {
	return name + "-" + instanceID
}
