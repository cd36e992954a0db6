// Package sqlite is the Acceptor's durable Store: an fsync-backed table of
// slot records, one row per slot upserted on every Save, grounded on the teacher's
// gorm.Open(sqlite.Open(...)) connection pattern
// (pkg/database/sql/adapters/sqlite/sqlite.go) and adapted from a generic
// SQL handle into the Acceptor's specific durability boundary.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// slotRow is the gorm model backing one paxos.SlotRecord. Promised and
// AcceptedNum are flattened into sortable columns so HighestSlot and
// LoadRange can use plain indexed queries; AcceptedVal is stored as JSON
// since its shape is polymorphic (Command or LeaderClaim).
type slotRow struct {
	Slot              int64 `gorm:"primaryKey"`
	PromisedRound     int64
	PromisedProposer  string
	AcceptedRound     int64
	AcceptedProposer  string
	AcceptedValueJSON []byte
}

func (slotRow) TableName() string { return "acceptor_slots" }

// Store is a paxos.Store backed by a single-file SQLite database. Every
// Save runs inside a transaction gorm commits synchronously, so a Save that
// returns nil has survived an fsync before the Acceptor replies.
type Store struct {
	db *gorm.DB
}

// Open connects to (and, if necessary, creates) the SQLite file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "acceptor.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.DurabilityFailure(fmt.Errorf("open sqlite acceptor store: %w", err))
	}
	if err := db.AutoMigrate(&slotRow{}); err != nil {
		return nil, errors.DurabilityFailure(fmt.Errorf("migrate acceptor store: %w", err))
	}
	return &Store{db: db}, nil
}

func toRow(rec paxos.SlotRecord) (slotRow, error) {
	row := slotRow{
		Slot:             int64(rec.Slot),
		PromisedRound:    rec.Promised.Round,
		PromisedProposer: rec.Promised.ProposerID,
		AcceptedRound:    rec.AcceptedNum.Round,
		AcceptedProposer: rec.AcceptedNum.ProposerID,
	}
	if rec.AcceptedVal != nil {
		data, err := json.Marshal(rec.AcceptedVal)
		if err != nil {
			return slotRow{}, err
		}
		row.AcceptedValueJSON = data
	}
	return row, nil
}

func fromRow(row slotRow) (paxos.SlotRecord, error) {
	rec := paxos.SlotRecord{
		Slot:        paxos.Slot(row.Slot),
		Promised:    paxos.ProposalNumber{Round: row.PromisedRound, ProposerID: row.PromisedProposer},
		AcceptedNum: paxos.ProposalNumber{Round: row.AcceptedRound, ProposerID: row.AcceptedProposer},
	}
	if len(row.AcceptedValueJSON) > 0 {
		var v paxos.Value
		if err := json.Unmarshal(row.AcceptedValueJSON, &v); err != nil {
			return paxos.SlotRecord{}, err
		}
		rec.AcceptedVal = &v
	}
	return rec, nil
}

func (s *Store) Load(ctx context.Context, slot paxos.Slot) (paxos.SlotRecord, error) {
	var row slotRow
	err := s.db.WithContext(ctx).First(&row, "slot = ?", int64(slot)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return paxos.SlotRecord{Slot: slot}, nil
		}
		return paxos.SlotRecord{}, err
	}
	return fromRow(row)
}

func (s *Store) Save(ctx context.Context, rec paxos.SlotRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (s *Store) LoadRange(ctx context.Context, from, to paxos.Slot) ([]paxos.SlotRecord, error) {
	var rows []slotRow
	if err := s.db.WithContext(ctx).Where("slot >= ? AND slot < ?", int64(from), int64(to)).Order("slot asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	recs := make([]paxos.SlotRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) HighestSlot(ctx context.Context) (paxos.Slot, error) {
	var row slotRow
	err := s.db.WithContext(ctx).Order("slot desc").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return -1, nil
		}
		return -1, err
	}
	return paxos.Slot(row.Slot), nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
