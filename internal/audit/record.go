// Package audit implements the durable audit trail: append-only stores with
// hash chaining, idempotent replay keyed by request id, and the recorder the
// dispatcher writes through before any response is released.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

var (
	// ErrChainBroken reports that stored records no longer form a valid
	// hash chain.
	ErrChainBroken = errors.New("audit chain is broken")
)

// genesisHash anchors the first record of every chain.
const genesisHash = "genesis"

// Record is one immutable audit trail entry. Actor role and organization are
// denormalized so the record stays meaningful after directory changes. Results
// are stored as a digest, never as payload.
type Record struct {
	RecordID     string          `json:"record_id"`
	Sequence     uint64          `json:"sequence"`
	RequestID    string          `json:"request_id"`
	ToolName     string          `json:"tool_name"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	ActorOrg     string          `json:"actor_org,omitempty"`
	Decision     string          `json:"decision"`
	Status       string          `json:"status,omitempty"`
	FaultCode    string          `json:"fault_code,omitempty"`
	FaultMessage string          `json:"fault_message,omitempty"`
	FaultDetail  json.RawMessage `json:"fault_detail,omitempty"`
	ResultDigest string          `json:"result_digest,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	FinishedAt   time.Time       `json:"finished_at"`
	RecordedAt   time.Time       `json:"recorded_at"`
	PrevHash     string          `json:"prev_hash"`
	Hash         string          `json:"hash"`
}

// FromOutcome builds the audit record for a sealed dispatch outcome. Times
// are normalized to UTC so hashing stays stable across store round trips.
func FromOutcome(out dispatch.Outcome) Record {
	rec := Record{
		RequestID:    out.RequestID,
		ToolName:     out.ToolName,
		ActorID:      out.ActorID,
		ActorRole:    string(out.ActorRole),
		ActorOrg:     out.ActorOrg,
		Decision:     string(out.Decision),
		Status:       string(out.Status),
		ResultDigest: digest(out.Result),
		StartedAt:    toUTC(out.StartedAt),
		FinishedAt:   toUTC(out.FinishedAt),
	}
	if f := out.Fault; f != nil {
		rec.FaultCode = f.Code
		rec.FaultMessage = f.Message
		if f.Detail != nil {
			if raw, err := json.Marshal(f.Detail); err == nil {
				rec.FaultDetail = raw
			}
		}
	}
	return rec
}

func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

// digest returns the canonical content hash of a handler result, or "" when
// the value is absent or cannot be serialized.
func digest(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// hashableRecord is the subset of Record covered by the chain hash. The
// random record id and the hash itself are excluded so verification depends
// only on recorded content and chain position.
type hashableRecord struct {
	Sequence     uint64          `json:"sequence"`
	RequestID    string          `json:"request_id"`
	ToolName     string          `json:"tool_name"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	ActorOrg     string          `json:"actor_org,omitempty"`
	Decision     string          `json:"decision"`
	Status       string          `json:"status,omitempty"`
	FaultCode    string          `json:"fault_code,omitempty"`
	FaultMessage string          `json:"fault_message,omitempty"`
	FaultDetail  json.RawMessage `json:"fault_detail,omitempty"`
	ResultDigest string          `json:"result_digest,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	FinishedAt   time.Time       `json:"finished_at"`
	RecordedAt   time.Time       `json:"recorded_at"`
	PrevHash     string          `json:"prev_hash"`
}

// computeRecordHash returns the RFC 8785 canonical content hash of a record,
// including its chain position.
func computeRecordHash(rec Record) (string, error) {
	h := hashableRecord{
		Sequence:     rec.Sequence,
		RequestID:    rec.RequestID,
		ToolName:     rec.ToolName,
		ActorID:      rec.ActorID,
		ActorRole:    rec.ActorRole,
		ActorOrg:     rec.ActorOrg,
		Decision:     rec.Decision,
		Status:       rec.Status,
		FaultCode:    rec.FaultCode,
		FaultMessage: rec.FaultMessage,
		FaultDetail:  rec.FaultDetail,
		ResultDigest: rec.ResultDigest,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		RecordedAt:   rec.RecordedAt,
		PrevHash:     rec.PrevHash,
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal record for hashing: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// verifyRecords recomputes the chain over records ordered by sequence and
// returns the number of verified records.
func verifyRecords(records []Record) (uint64, error) {
	prev := genesisHash
	for i, rec := range records {
		if rec.PrevHash != prev {
			return uint64(i), fmt.Errorf("%w: record %d (seq %d) has prev_hash %s, expected %s",
				ErrChainBroken, i, rec.Sequence, rec.PrevHash, prev)
		}
		computed, err := computeRecordHash(rec)
		if err != nil {
			return uint64(i), fmt.Errorf("%w: record %d: %v", ErrChainBroken, i, err)
		}
		if computed != rec.Hash {
			return uint64(i), fmt.Errorf("%w: record %d (seq %d) hash mismatch",
				ErrChainBroken, i, rec.Sequence)
		}
		prev = rec.Hash
	}
	return uint64(len(records)), nil
}

// Filter selects records for queries. Zero-valued fields match everything;
// Since and Until compare against RecordedAt.
type Filter struct {
	ActorID  string
	ToolName string
	Decision string
	Since    time.Time
	Until    time.Time
	AfterSeq uint64
	Limit    int
}

func (f Filter) matches(rec Record) bool {
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if f.ToolName != "" && rec.ToolName != f.ToolName {
		return false
	}
	if f.Decision != "" && rec.Decision != f.Decision {
		return false
	}
	if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.RecordedAt.After(f.Until) {
		return false
	}
	if f.AfterSeq > 0 && rec.Sequence <= f.AfterSeq {
		return false
	}
	return true
}

// Store is an append-only audit backend. Append assigns sequence, record id,
// timestamp and chain hashes; when the request id was already recorded it
// returns the original record with replayed set and writes nothing.
type Store interface {
	Append(ctx context.Context, rec Record) (stored Record, replayed bool, err error)
	Query(ctx context.Context, f Filter) ([]Record, error)
	VerifyChain(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
	Close() error
}
