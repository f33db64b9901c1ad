package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tercanobre/reidpanel/pkg/models"
)

func ArtifactKey(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return fmt.Sprintf("artifact:%s", hex.EncodeToString(sum[:16]))
}

func ArtifactTypeKey(ref string) string {
	return ArtifactKey(ref) + ":type"
}

func JobStatusKey(kind models.JobKind) string {
	return fmt.Sprintf("job:%s:status", kind)
}

func SubmitLockKey(kind models.JobKind) string {
	return fmt.Sprintf("lock:submit:%s", kind)
}

func RateLimitKey(keyPrefix, bucket string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyPrefix, bucket)
}
