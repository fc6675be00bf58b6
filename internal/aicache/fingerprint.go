package aicache

import (
	"crypto/md5"
	"encoding/hex"
)

// ExecutionContext is the device/UI context a prompt is evaluated against.
type ExecutionContext struct {
	DeviceModel    string
	UIName         string
	AvailableNodes []string
	UseCache       bool
	DebugMode      bool
}

// Fingerprint computes md5(normalized_prompt ∥ device_model ∥ ui_name ∥
// sorted_csv(available_nodes)) (spec.md §3 CachedPlan, §4.3 Fingerprint).
// md5 here is a content-addressing digest, not a security boundary, which
// is exactly the invariant spec.md names -- sha256 would change the
// taxonomy of existing fingerprints without adding anything.
func Fingerprint(normalizedPrompt string, ctx ExecutionContext) string {
	h := md5.New()
	h.Write([]byte(normalizedPrompt))
	h.Write([]byte{'|'})
	h.Write([]byte(ctx.DeviceModel))
	h.Write([]byte{'|'})
	h.Write([]byte(ctx.UIName))
	h.Write([]byte{'|'})
	h.Write([]byte(SortedCSV(ctx.AvailableNodes)))
	return hex.EncodeToString(h.Sum(nil))
}
