package store

import (
	"context"

	"github.com/rudransh-shrivastava/peerlink/internal/db"
)

// RoomRepository tracks which peers are in which relay room.
type RoomRepository interface {
	Join(ctx context.Context, room, peerID, username string, capacity int) ([]db.Member, error)
	Leave(ctx context.Context, peerID string) (db.Member, error)
	Members(ctx context.Context, room string) ([]db.Member, error)
	DropAll(ctx context.Context) error
}

// TransferRepository records the outcome of file transfers.
type TransferRepository interface {
	Save(ctx context.Context, t db.Transfer) error
	Get(ctx context.Context, id string) (db.Transfer, error)
	List(ctx context.Context, limit int) ([]db.Transfer, error)
}
