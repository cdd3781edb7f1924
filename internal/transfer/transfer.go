package transfer

import "github.com/sirupsen/logrus"

const (
	DefaultChunkSize    = 16384
	DefaultLowWaterMark = 65536
)

type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusComplete
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusComplete:
		return "complete"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s Status) Done() bool {
	return s == StatusComplete || s == StatusAborted
}

type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

type EventType int

const (
	EventProgress EventType = iota
	EventComplete
	EventAborted
	EventRejected
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventAborted:
		return "aborted"
	case EventRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event reports transfer progress. Payload is set on EventComplete for the
// receiver; Err is set on EventAborted and EventRejected.
type Event struct {
	Bytes   int64
	Err     error
	Label   string
	Payload []byte
	Role    Role
	Total   int64
	Type    EventType
}

type Options struct {
	ChunkSize    int
	Logger       *logrus.Logger
	LowWaterMark uint64
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.LowWaterMark == 0 {
		o.LowWaterMark = DefaultLowWaterMark
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// ChunkSizes returns the sizes the sender uses to split a payload of size
// bytes: full chunks followed by one shorter remainder, if any.
func ChunkSizes(size int64, chunkSize int) []int {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	n := (size + int64(chunkSize) - 1) / int64(chunkSize)
	sizes := make([]int, 0, n)
	for rem := size; rem > 0; rem -= int64(chunkSize) {
		if rem < int64(chunkSize) {
			sizes = append(sizes, int(rem))
			break
		}
		sizes = append(sizes, chunkSize)
	}
	return sizes
}
