// Package store provides database access for relay rooms and transfer history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAlreadyInRoom = errors.New("store: peer already joined a room")
	ErrNotFound      = errors.New("store: not found")
	ErrRoomFull      = errors.New("store: room is full")
)

type RoomStore struct {
	db *gorm.DB
}

func NewRoomStore(gdb *gorm.DB) *RoomStore {
	return &RoomStore{db: gdb}
}

// Join adds peerID to room, creating the room on first use. It returns the
// members that were already present.
func (rs *RoomStore) Join(ctx context.Context, room, peerID, username string, capacity int) ([]db.Member, error) {
	var existing []db.Member

	err := rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Member{}).Where("peer_id = ?", peerID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyInRoom
		}

		r := db.Room{Name: room}
		if err := tx.Where(db.Room{Name: room}).Attrs(db.Room{CreatedAt: time.Now().Unix()}).FirstOrCreate(&r).Error; err != nil {
			return err
		}

		if err := tx.Where("room_id = ?", r.ID).Order("id").Find(&existing).Error; err != nil {
			return err
		}
		if capacity > 0 && len(existing) >= capacity {
			return ErrRoomFull
		}

		return tx.Create(&db.Member{
			JoinedAt: time.Now().Unix(),
			PeerID:   peerID,
			RoomID:   r.ID,
			Username: username,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Leave removes peerID from its room and deletes the room once it is empty.
func (rs *RoomStore) Leave(ctx context.Context, peerID string) (db.Member, error) {
	var m db.Member

	err := rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Room").Where("peer_id = ?", peerID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Delete(&db.Member{}, m.ID).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&db.Member{}).Where("room_id = ?", m.RoomID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			return tx.Delete(&db.Room{}, m.RoomID).Error
		}
		return nil
	})
	return m, err
}

func (rs *RoomStore) Members(ctx context.Context, room string) ([]db.Member, error) {
	var members []db.Member
	err := rs.db.WithContext(ctx).
		Joins("Room").
		Where("Room.name = ?", room).
		Order("members.id").
		Find(&members).Error
	return members, err
}

// DropAll empties every room. The relay calls it on startup and shutdown.
func (rs *RoomStore) DropAll(ctx context.Context) error {
	return rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.Member{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.Room{}).Error
	})
}

type TransferStore struct {
	db *gorm.DB
}

func NewTransferStore(gdb *gorm.DB) *TransferStore {
	return &TransferStore{db: gdb}
}

// Save inserts t or replaces the record with the same id.
func (ts *TransferStore) Save(ctx context.Context, t db.Transfer) error {
	if t.ID == "" {
		return fmt.Errorf("save transfer: empty id")
	}
	return ts.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&t).Error
}

func (ts *TransferStore) Get(ctx context.Context, id string) (db.Transfer, error) {
	var t db.Transfer
	err := ts.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return t, ErrNotFound
	}
	return t, err
}

// List returns the most recent transfers first. A limit of zero lists all.
func (ts *TransferStore) List(ctx context.Context, limit int) ([]db.Transfer, error) {
	var out []db.Transfer
	q := ts.db.WithContext(ctx).Order("started_at desc").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
