package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// PutArtifact stores data under key, replacing any previous blob.
func (s *Store) PutArtifact(key string, data []byte, runID string) (ArtifactInfo, error) {
	sum := sha256.Sum256(data)
	info := ArtifactInfo{
		Key:       key,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      len(data),
		RunID:     runID,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.Exec(`INSERT INTO artifacts (key, data, sha256, size, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data, sha256 = excluded.sha256, size = excluded.size,
			run_id = excluded.run_id, updated_at = excluded.updated_at`,
		info.Key, data, info.SHA256, info.Size, info.RunID, timestamp(info.UpdatedAt),
	)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("storing artifact %s: %w", key, err)
	}
	return info, nil
}

// GetArtifact returns the blob stored under key. A blob whose digest no
// longer matches is reported as ErrChecksum.
func (s *Store) GetArtifact(key string) ([]byte, ArtifactInfo, error) {
	var data []byte
	var updatedAt string
	info := ArtifactInfo{Key: key}
	err := s.db.QueryRow(`SELECT data, sha256, size, run_id, updated_at FROM artifacts WHERE key = ?`, key).
		Scan(&data, &info.SHA256, &info.Size, &info.RunID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ArtifactInfo{}, ErrNotFound
	}
	if err != nil {
		return nil, ArtifactInfo{}, fmt.Errorf("loading artifact %s: %w", key, err)
	}
	if info.UpdatedAt, err = parseTimestamp("updated_at", key, updatedAt); err != nil {
		return nil, ArtifactInfo{}, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != info.SHA256 {
		return nil, info, fmt.Errorf("artifact %s: %w", key, ErrChecksum)
	}
	return data, info, nil
}
