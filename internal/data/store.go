// Package data provides in-memory storage for loaded trade datasets.
package data

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDatasetNotFound is returned for unknown dataset IDs
var ErrDatasetNotFound = errors.New("dataset not found")

// Store keeps uploaded datasets for the lifetime of the process. Nothing is persisted.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	datasets map[string]*StoredDataset
	maxSets  int
}

// StoredDataset is a dataset plus the metadata gathered at ingestion
type StoredDataset struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Dataset  *Dataset       `json:"-"`
	Stats    LoadStats      `json:"stats"`
	Quality  *QualityReport `json:"quality"`
	LoadedAt time.Time      `json:"loadedAt"`
}

// DatasetMetadata is the listing view of a stored dataset
type DatasetMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Trades       int       `json:"trades"`
	Classifiable int       `json:"classifiable"`
	StartDate    time.Time `json:"startDate,omitempty"`
	EndDate      time.Time `json:"endDate,omitempty"`
	LoadedAt     time.Time `json:"loadedAt"`
}

// NewStore creates a new dataset store holding at most maxSets datasets;
// the oldest is evicted when full. maxSets <= 0 means unbounded.
func NewStore(logger *zap.Logger, maxSets int) *Store {
	return &Store{
		logger:   logger,
		datasets: make(map[string]*StoredDataset),
		maxSets:  maxSets,
	}
}

// Put stores a dataset and returns its generated ID
func (s *Store) Put(name string, ds *Dataset, stats LoadStats, quality *QualityReport) *StoredDataset {
	stored := &StoredDataset{
		ID:       uuid.New().String(),
		Name:     name,
		Dataset:  ds,
		Stats:    stats,
		Quality:  quality,
		LoadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSets > 0 && len(s.datasets) >= s.maxSets {
		s.evictOldestLocked()
	}
	s.datasets[stored.ID] = stored

	s.logger.Info("Stored dataset",
		zap.String("id", stored.ID),
		zap.String("name", name),
		zap.Int("trades", ds.Len()),
	)

	return stored
}

// Get returns a stored dataset
func (s *Store) Get(id string) (*StoredDataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrDatasetNotFound)
	}
	return stored, nil
}

// Delete removes a dataset. It reports whether the dataset existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[id]; !ok {
		return false
	}
	delete(s.datasets, id)
	return true
}

// List returns metadata for all stored datasets, oldest first
func (s *Store) List() []DatasetMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]DatasetMetadata, 0, len(s.datasets))
	for _, stored := range s.datasets {
		span := stored.Dataset.Span()
		list = append(list, DatasetMetadata{
			ID:           stored.ID,
			Name:         stored.Name,
			Trades:       stored.Dataset.Len(),
			Classifiable: stored.Dataset.Classifiable(),
			StartDate:    span.Start,
			EndDate:      span.End,
			LoadedAt:     stored.LoadedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LoadedAt.Before(list[j].LoadedAt)
	})
	return list
}

func (s *Store) evictOldestLocked() {
	var oldest *StoredDataset
	for _, stored := range s.datasets {
		if oldest == nil || stored.LoadedAt.Before(oldest.LoadedAt) {
			oldest = stored
		}
	}
	if oldest != nil {
		delete(s.datasets, oldest.ID)
		s.logger.Debug("Evicted dataset", zap.String("id", oldest.ID))
	}
}
