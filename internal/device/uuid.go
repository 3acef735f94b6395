package device

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// MakeUUID derives the "output-device-uuid" URN for a device URI. The
// value is a version 3 RFC 4122 UUID built from the SHA-256 hash of the
// URI, so the same device always registers under the same identity and
// the infrastructure printer can hand previously fetched jobs back to it.
//
// An empty URI maps to "file://<hostname>/dev/null" so the proxy still
// gets a stable identity before a device is configured.
func MakeUUID(deviceURI string) string {
	if deviceURI == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		deviceURI = fmt.Sprintf("file://%s/dev/null", host)
	}

	sum := sha256.Sum256([]byte(deviceURI))

	var u uuid.UUID
	copy(u[:], sum[16:])
	u[6] = (u[6] & 0x0f) | 0x30
	u[8] = (u[8] & 0x3f) | 0x80

	return "urn:uuid:" + u.String()
}
