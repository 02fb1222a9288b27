// Package store implements the Artifact and Job stores: the gorm+sqlite
// artifact catalogue with DAG lineage and variation sets, and the
// redis-backed job state machine with cancellation-safe wait/poll.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

// Artifact is a content-addressed output of a tool invocation — its Hash
// points into the CAS store; this row carries the queryable metadata.
type Artifact struct {
	ID          string `gorm:"primaryKey"`
	Hash        string `gorm:"index;not null"`
	Kind        string `gorm:"index;not null"`
	Creator     string `gorm:"index"`
	ParentID    string `gorm:"index"` // DAG lineage: the artifact this one derives from, if any
	VariationOf string `gorm:"index"` // variation-set id, empty if not part of a set
	VariationIx int    // dense index within VariationOf, assigned atomically
	Tags        string // comma-joined; filtered with LIKE, no separate tags table needed at this scale
	CreatedAt   time.Time `gorm:"index"`
}

func (Artifact) TableName() string { return "artifacts" }

// ArtifactFilter narrows List results. Zero values mean "no constraint".
type ArtifactFilter struct {
	Tag           string
	Creator       string
	WithinMinutes int
}

// ArtifactStore is the Artifact catalogue's operation set.
type ArtifactStore interface {
	Create(ctx context.Context, a *Artifact) (string, error)
	Get(ctx context.Context, id string) (*Artifact, error)
	List(ctx context.Context, filter ArtifactFilter) ([]Artifact, error)
	AddTag(ctx context.Context, id, tag string) error
	Delete(ctx context.Context, id string) error
	// NextVariationIndex atomically assigns the next dense index {0,1,...,n-1}
	// within a variation set — two concurrent creations in the same set
	// receive distinct indices.
	NextVariationIndex(ctx context.Context, setID string) (int, error)
}

type gormArtifactStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewArtifactStore wraps an already-migrated gorm handle.
func NewArtifactStore(db *gorm.DB, logger commons.Logger) ArtifactStore {
	return &gormArtifactStore{db: db, logger: logger}
}

func (s *gormArtifactStore) Create(ctx context.Context, a *Artifact) (string, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return "", fmt.Errorf("create artifact %s: %w", a.ID, err)
	}
	s.logger.Debugw("artifact created", "id", a.ID, "hash", a.Hash, "kind", a.Kind)
	return a.ID, nil
}

func (s *gormArtifactStore) Get(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, fmt.Errorf("artifact %s: %w", id, err)
	}
	return &a, nil
}

func (s *gormArtifactStore) List(ctx context.Context, filter ArtifactFilter) ([]Artifact, error) {
	q := s.db.WithContext(ctx).Model(&Artifact{})
	if filter.Tag != "" {
		q = q.Where("tags LIKE ?", "%"+filter.Tag+"%")
	}
	if filter.Creator != "" {
		q = q.Where("creator = ?", filter.Creator)
	}
	if filter.WithinMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(filter.WithinMinutes) * time.Minute)
		q = q.Where("created_at >= ?", cutoff)
	}
	var out []Artifact
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

func (s *gormArtifactStore) AddTag(ctx context.Context, id, tag string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Tags == "" {
		a.Tags = tag
	} else {
		a.Tags = a.Tags + "," + tag
	}
	if err := s.db.WithContext(ctx).Model(&Artifact{}).Where("id = ?", id).
		Update("tags", a.Tags).Error; err != nil {
		return fmt.Errorf("add tag to artifact %s: %w", id, err)
	}
	return nil
}

func (s *gormArtifactStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Artifact{}).Error; err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

// NextVariationIndex uses a transaction with a row count under lock to
// guarantee two concurrent callers for the same set never observe the same
// index — sqlite's default transaction isolation serialises writers, so the
// count-then-assign pattern here is race-free without an explicit SELECT
// FOR UPDATE.
func (s *gormArtifactStore) NextVariationIndex(ctx context.Context, setID string) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Artifact{}).Where("variation_of = ?", setID).Count(&count).Error; err != nil {
			return err
		}
		next = int(count)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("next variation index for set %s: %w", setID, err)
	}
	return next, nil
}
