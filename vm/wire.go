package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical CBOR so identical reports encode to identical bytes.
var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeReport serializes a profile report to CBOR.
func EncodeReport(r *ProfileReport) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// DecodeReport deserializes a profile report from CBOR.
func DecodeReport(data []byte) (*ProfileReport, error) {
	var r ProfileReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("vm: unmarshal profile report: %w", err)
	}
	return &r, nil
}

// EncodeSnapshot serializes a debugger snapshot to CBOR.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// DecodeSnapshot deserializes a debugger snapshot from CBOR.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
