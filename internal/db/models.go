package db

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt int64
}

type Member struct {
	ID       uint   `gorm:"primaryKey"`
	RoomID   uint   `gorm:"not null;index"`
	Room     Room   `gorm:"constraint:OnDelete:CASCADE"`
	PeerID   string `gorm:"uniqueIndex;not null"`
	Username string
	JoinedAt int64
}

type Transfer struct {
	ID         string `gorm:"primaryKey"`
	Label      string `gorm:"index"`
	Name       string
	PeerID     string
	Direction  string
	Size       int64
	Bytes      int64
	Status     string
	PeakKbps   int64
	StartedAt  int64
	FinishedAt int64
}
