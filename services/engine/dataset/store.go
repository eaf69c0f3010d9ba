// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
	"github.com/AleutianAI/AleutianStats/services/engine/storage/badger"
)

// ErrProjectNotFound is returned by Store.Open for an unknown project.
var ErrProjectNotFound = errors.New("project not found")

// ProgressFunc receives save/open progress. done counts completed
// columns, total is the column count. Called synchronously; keep it
// cheap.
type ProgressFunc func(done, total int)

// Store persists projects and user settings in an embedded BadgerDB.
//
// Key layout:
//
//	project:<path>:meta       project metadata and the transform ledger
//	project:<path>:schema     column schemas in display order
//	project:<path>:col:<id>   one column's cells
//	setting:<name>            one user setting
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenStore opens the store at the configured path.
func OpenStore(cfg badger.Config, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// projectMeta is the persisted header of a project.
type projectMeta struct {
	Title           string                 `json:"title"`
	RowCount        int                    `json:"rowCount"`
	NextColumnID    int32                  `json:"nextColumnId"`
	NextTransformID int32                  `json:"nextTransformId"`
	Revision        int32                  `json:"revision"`
	Transforms      []coms.TransformSchema `json:"transforms,omitempty"`
}

// storedColumn carries the schema fields plus the model-internal state
// the wire schema doesn't need.
type storedColumn struct {
	Schema      coms.ColumnSchema `json:"schema"`
	TransformID int32             `json:"transformId,omitempty"`
	NeedsRecalc bool              `json:"needsRecalc,omitempty"`
}

func projectKey(path, suffix string) []byte {
	return []byte("project:" + path + ":" + suffix)
}

func columnKey(path string, id int32) []byte {
	return projectKey(path, fmt.Sprintf("col:%d", id))
}

// Save writes the model to the store under path, reporting per-column
// progress. The model is read-locked for the duration so the snapshot
// is consistent; concurrent mutations block until the save finishes.
func (s *Store) Save(ctx context.Context, path string, m *Model, progress ProgressFunc) error {
	if path == "" {
		return errors.New("project path is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	meta := projectMeta{
		Title:           m.title,
		RowCount:        m.rowCount,
		NextColumnID:    m.nextColumnID,
		NextTransformID: m.nextTransformID,
		Revision:        m.revision,
		Transforms:      m.transforms,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal project meta: %w", err)
	}

	stored := make([]storedColumn, len(m.columns))
	for i, column := range m.columns {
		stored[i] = storedColumn{
			Schema:      column.Schema(),
			TransformID: column.TransformID,
			NeedsRecalc: column.NeedsRecalc,
		}
	}
	schemaData, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal project schema: %w", err)
	}

	// Drop any previous revision of the project first so deleted
	// columns don't linger under stale keys.
	if err := s.deleteProject(ctx, path); err != nil && !errors.Is(err, ErrProjectNotFound) {
		return err
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := txn.Set(projectKey(path, "meta"), metaData); err != nil {
			return err
		}
		return txn.Set(projectKey(path, "schema"), schemaData)
	})
	if err != nil {
		return fmt.Errorf("write project header: %w", err)
	}

	total := len(m.columns)
	// One transaction per column keeps each commit under badger's
	// transaction size limit and gives progress natural checkpoints.
	for i, column := range m.columns {
		cells, err := json.Marshal(column.Cells)
		if err != nil {
			return fmt.Errorf("marshal column %q: %w", column.Name, err)
		}
		err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
			return txn.Set(columnKey(path, column.ID), cells)
		})
		if err != nil {
			return fmt.Errorf("write column %q: %w", column.Name, err)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}

	if s.log != nil {
		s.log.Info("project saved",
			slog.String("path", path),
			slog.Int("columns", total),
			slog.Int("rows", m.rowCount))
	}
	return nil
}

// Open reads the project at path into a fresh model, reporting
// per-column progress. Edit tracking is off on the returned model;
// the session enables it once the load is complete.
func (s *Store) Open(ctx context.Context, path string, progress ProgressFunc) (*Model, error) {
	var meta projectMeta
	var stored []storedColumn

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(projectKey(path, "meta"))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
			return fmt.Errorf("decode project meta: %w", err)
		}

		item, err = txn.Get(projectKey(path, "schema"))
		if err != nil {
			return fmt.Errorf("read project schema: %w", err)
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &stored) })
	})
	if err != nil {
		return nil, err
	}

	m := &Model{
		title:           meta.Title,
		path:            path,
		rowCount:        meta.RowCount,
		nextColumnID:    meta.NextColumnID,
		nextTransformID: meta.NextTransformID,
		revision:        meta.Revision,
		transforms:      meta.Transforms,
	}

	total := len(stored)
	for i, sc := range stored {
		column := &Column{
			ID:             sc.Schema.Id,
			Name:           sc.Schema.Name,
			Index:          sc.Schema.Index,
			ColumnType:     sc.Schema.ColumnType,
			DataType:       sc.Schema.DataType,
			MeasureType:    sc.Schema.MeasureType,
			AutoMeasure:    sc.Schema.AutoMeasure,
			Hidden:         sc.Schema.Hidden,
			Levels:         sc.Schema.Levels,
			Formula:        sc.Schema.Formula,
			FormulaMessage: sc.Schema.FormulaMessage,
			ParentID:       sc.Schema.ParentId,
			TransformID:    sc.TransformID,
			FilterNo:       sc.Schema.FilterNo,
			Edited:         &CellTracker{ranges: sc.Schema.EditedCellRanges},
			NeedsRecalc:    sc.NeedsRecalc,
		}
		err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
			item, err := txn.Get(columnKey(path, column.ID))
			if err != nil {
				return fmt.Errorf("read column %q: %w", column.Name, err)
			}
			return item.Value(func(v []byte) error { return json.Unmarshal(v, &column.Cells) })
		})
		if err != nil {
			return nil, err
		}
		if len(column.Cells) < meta.RowCount {
			column.Cells = append(column.Cells, emptyCells(meta.RowCount-len(column.Cells))...)
		}
		m.columns = append(m.columns, column)
		if progress != nil {
			progress(i+1, total)
		}
	}

	if s.log != nil {
		s.log.Info("project opened",
			slog.String("path", path),
			slog.Int("columns", total),
			slog.Int("rows", meta.RowCount))
	}
	return m, nil
}

// ListProjects returns the paths of all saved projects.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("project:")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, ":meta") {
				continue
			}
			path := strings.TrimSuffix(strings.TrimPrefix(key, "project:"), ":meta")
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// DeleteProject removes a saved project and all its columns.
func (s *Store) DeleteProject(ctx context.Context, path string) error {
	return s.deleteProject(ctx, path)
}

func (s *Store) deleteProject(ctx context.Context, path string) error {
	found := false
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = projectKey(path, "")

		it := txn.NewIterator(opts)
		defer it.Close()

		var doomed [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			doomed = append(doomed, it.Item().KeyCopy(nil))
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
			found = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrProjectNotFound
	}
	return nil
}

// SaveSetting persists one user setting.
func (s *Store) SaveSetting(ctx context.Context, name string, value coms.CellValue) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %q: %w", name, err)
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte("setting:"+name), data)
	})
}

// LoadSettings returns all persisted user settings.
func (s *Store) LoadSettings(ctx context.Context) (map[string]coms.CellValue, error) {
	settings := make(map[string]coms.CellValue)
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte("setting:")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), "setting:")
			err := item.Value(func(v []byte) error {
				var value coms.CellValue
				if err := json.Unmarshal(v, &value); err != nil {
					return fmt.Errorf("decode setting %q: %w", name, err)
				}
				settings[name] = value
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}
