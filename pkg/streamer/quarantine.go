package streamer

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// QuarantineRecord is one line of the quarantine log.
type QuarantineRecord struct {
	Chain      string    `json:"chain,omitempty"`
	StartBlock uint64    `json:"start_block"`
	EndBlock   uint64    `json:"end_block"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// QuarantineLog appends JSON lines to a writer.
type QuarantineLog struct {
	mu sync.Mutex
	w  io.Writer
}

func NewQuarantineLog(w io.Writer) *QuarantineLog {
	return &QuarantineLog{w: w}
}

// NewRotatingQuarantineLog writes to path, rotating at 100MB and keeping ten files.
func NewRotatingQuarantineLog(path string) (*QuarantineLog, io.Closer) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 10,
		Compress:   true,
	}
	return NewQuarantineLog(lj), lj
}

func (q *QuarantineLog) Append(rec QuarantineRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err = q.w.Write(append(raw, '\n'))
	return err
}
