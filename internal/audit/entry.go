package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Audit action types.
const (
	ActionLogin       = "auth.login"
	ActionLogout      = "auth.logout"
	ActionAccessCheck = "access.check"

	ActionUserCreate      = "admin.user.create"
	ActionUserDeactivate  = "admin.user.deactivate"
	ActionRoleCreate      = "admin.role.create"
	ActionRolePermissions = "admin.role.permissions"
	ActionRoleAssign      = "admin.role.assign"
	ActionRoleUnassign    = "admin.role.unassign"
	ActionGrantPut        = "admin.grant.put"
	ActionGrantRemove     = "admin.grant.remove"
)

// Decision outcomes as recorded.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Entry is one immutable audit record. Entries are write-once: the engine
// never updates or deletes them; retention is an external process.
//
// PrevHash and Hash chain every entry to its predecessor so that any
// removal or in-place edit is detectable by replaying the chain.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Action        string    `json:"action"`
	ResourceType  string    `json:"resource_type,omitempty"`
	ResourceID    string    `json:"resource_id,omitempty"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	Permissions   []string  `json:"permissions,omitempty"`
	PHIAccessed   bool      `json:"phi_accessed"`
	PHICategories []string  `json:"phi_categories,omitempty"`
	Emergency     bool      `json:"emergency"`
	LatencyMS     int64     `json:"latency_ms"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

const genesisSeed = "CLINAUTH_AUDIT_GENESIS"

// GenesisHash is the chain anchor used before any entry exists.
func GenesisHash() string {
	h := blake3.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(h[:])
}

// contentHash hashes the canonical JSON form of the entry with the chain
// fields cleared.
func (e *Entry) contentHash() (string, error) {
	c := *e
	c.PrevHash = ""
	c.Hash = ""
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

// chainHash computes blake3(prev || content) over the raw 32-byte digests.
func chainHash(prevHex, contentHex string) (string, error) {
	prev, err := hex.DecodeString(prevHex)
	if err != nil || len(prev) != 32 {
		return "", fmt.Errorf("invalid prev hash %q", prevHex)
	}
	content, err := hex.DecodeString(contentHex)
	if err != nil || len(content) != 32 {
		return "", fmt.Errorf("invalid content hash %q", contentHex)
	}
	input := make([]byte, 0, 64)
	input = append(input, prev...)
	input = append(input, content...)
	h := blake3.Sum256(input)
	return hex.EncodeToString(h[:]), nil
}

// Seal links the entry to the chain ending at prevHash, populating PrevHash
// and Hash. Must be called exactly once, before the entry is persisted.
func (e *Entry) Seal(prevHash string) error {
	content, err := e.contentHash()
	if err != nil {
		return err
	}
	link, err := chainHash(prevHash, content)
	if err != nil {
		return err
	}
	e.PrevHash = prevHash
	e.Hash = link
	return nil
}

// VerifyChain replays a consecutive run of entries and reports the first
// break. The run must start at the entry whose PrevHash anchors it (the
// genesis hash for a full-log verification).
func VerifyChain(entries []Entry) error {
	for i := range entries {
		e := &entries[i]
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("audit chain broken at entry %s: prev hash mismatch", e.ID)
		}
		content, err := e.contentHash()
		if err != nil {
			return err
		}
		link, err := chainHash(e.PrevHash, content)
		if err != nil {
			return fmt.Errorf("audit entry %s: %w", e.ID, err)
		}
		if link != e.Hash {
			return fmt.Errorf("audit chain broken at entry %s: content altered", e.ID)
		}
	}
	return nil
}
