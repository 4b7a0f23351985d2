// Package history journals connection events to SQLite.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shazow/wifimgr/wifi"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history: journal closed")

const pendingBuffer = 128

// EventModel is the GORM model for a journaled connection event.
type EventModel struct {
	ID       uint      `gorm:"primaryKey"`
	Time     time.Time `gorm:"index"`
	Type     string
	SSID     string `gorm:"index"`
	Hash     string
	Security string
}

// Entry is one journaled event.
type Entry struct {
	Time     time.Time
	Type     string
	SSID     string
	Hash     string
	Security string
}

// FromEvent converts a connection event.
func FromEvent(ev wifi.Event) Entry {
	return Entry{
		Time:     ev.Time,
		Type:     ev.Type.String(),
		SSID:     ev.AccessPoint.SSID(),
		Hash:     ev.AccessPoint.Hash().String(),
		Security: ev.AccessPoint.Security().String(),
	}
}

// Journal implements wifi.EventListener. Events are written by a background
// goroutine so listener callbacks never wait on the database.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending chan Entry
	done    chan struct{}
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection, or every pooled connection to ":memory:" sees its own database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&EventModel{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	j := &Journal{
		db:      db,
		logger:  log.With("component", "history"),
		pending: make(chan Entry, pendingBuffer),
		done:    make(chan struct{}),
	}
	go j.writer()
	return j, nil
}

func (j *Journal) writer() {
	defer close(j.done)
	for e := range j.pending {
		if err := j.Record(e); err != nil {
			j.logger.Warn("failed to journal event", "type", e.Type, "ssid", e.SSID, "error", err)
		}
	}
}

// ConnectionEventAppended queues ev for writing. Events are dropped when
// the queue is full or the journal is closed.
func (j *Journal) ConnectionEventAppended(ev wifi.Event) {
	if ev.IsNull() {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.pending <- FromEvent(ev):
	default:
		j.logger.Warn("history queue full, dropping event", "type", ev.Type, "ssid", ev.AccessPoint.SSID())
	}
}

// Record writes e synchronously.
func (j *Journal) Record(e Entry) error {
	m := EventModel{
		Time:     e.Time,
		Type:     e.Type,
		SSID:     e.SSID,
		Hash:     e.Hash,
		Security: e.Security,
	}
	return j.db.Create(&m).Error
}

// Recent returns up to n entries, newest first. n <= 0 returns everything.
func (j *Journal) Recent(n int) ([]Entry, error) {
	return j.query(j.db, n)
}

// ForSSID returns up to n entries for ssid, newest first.
func (j *Journal) ForSSID(ssid string, n int) ([]Entry, error) {
	return j.query(j.db.Where(&EventModel{SSID: ssid}), n)
}

func (j *Journal) query(tx *gorm.DB, n int) ([]Entry, error) {
	tx = tx.Order("time desc").Order("id desc")
	if n > 0 {
		tx = tx.Limit(n)
	}
	var models []EventModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(models))
	for i, m := range models {
		out[i] = Entry{Time: m.Time, Type: m.Type, SSID: m.SSID, Hash: m.Hash, Security: m.Security}
	}
	return out, nil
}

// Prune deletes entries older than before and returns how many were removed.
func (j *Journal) Prune(before time.Time) (int64, error) {
	res := j.db.Where("time < ?", before).Delete(&EventModel{})
	return res.RowsAffected, res.Error
}

// Close drains the queue and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.closed = true
	close(j.pending)
	j.mu.Unlock()

	<-j.done
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
