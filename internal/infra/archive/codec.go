package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"haccare/pkg/domain"
)

// SnapshotKey is the archive key for a template's snapshot version.
func SnapshotKey(templateID string, version int64) string {
	return fmt.Sprintf("snapshots/%s/%06d.json.zst", templateID, version)
}

// EncodeSnapshot serializes a snapshot version to zstd-compressed JSON.
func EncodeSnapshot(snapshot domain.SnapshotVersion) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flush zstd: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (domain.SnapshotVersion, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return domain.SnapshotVersion{}, fmt.Errorf("init zstd: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return domain.SnapshotVersion{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snapshot domain.SnapshotVersion
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.SnapshotVersion{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}
