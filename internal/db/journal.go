package db

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/orchestrator"
	"github.com/banshee-data/rover/internal/timeutil"
)

// DefaultJournalBuffer is the number of records that may be queued before
// the journal starts dropping.
const DefaultJournalBuffer = 1024

type journalRecord struct {
	transition *orchestrator.Transition
	command    *commandRecord
	flushed    chan struct{}
}

type commandRecord struct {
	action motor.Action
	cmd    motor.Command
	at     time.Time
}

// Journal persists motor commands and mode transitions. It is a motor.Observer
// and an orchestrator.Listener; both hooks only enqueue, so the control loops
// never wait on disk. When the queue is full records are dropped and counted.
type Journal struct {
	db    *DB
	clock timeutil.Clock
	logf  func(string, ...interface{})

	records chan journalRecord
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}

	// owned by the writer goroutine
	mode  string
	runID string
}

// NewJournal starts the background writer.
func NewJournal(db *DB, buffer int, clock timeutil.Clock) *Journal {
	if buffer <= 0 {
		buffer = DefaultJournalBuffer
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	j := &Journal{
		db:      db,
		clock:   clock,
		logf:    monitoring.Component("journal"),
		records: make(chan journalRecord, buffer),
		done:    make(chan struct{}),
		mode:    orchestrator.ModeIdle.String(),
	}
	go j.writer()
	return j
}

// ObserveCommand implements motor.Observer.
func (j *Journal) ObserveCommand(action motor.Action, cmd motor.Command) {
	j.enqueue(journalRecord{command: &commandRecord{action: action, cmd: cmd, at: j.clock.Now()}})
}

// OnTransition implements orchestrator.Listener.
func (j *Journal) OnTransition(t orchestrator.Transition) {
	j.enqueue(journalRecord{transition: &t})
}

func (j *Journal) enqueue(r journalRecord) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.records <- r:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logf("journal queue full, %d records dropped", n)
		}
	}
}

// Flush blocks until every record queued before the call has been written.
func (j *Journal) Flush() {
	ch := make(chan struct{})
	select {
	case j.records <- journalRecord{flushed: ch}:
	case <-j.done:
		return
	}
	select {
	case <-ch:
	case <-j.done:
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns how many records reached the database.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Close writes what is queued and stops the writer. The database is left
// open.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		j.Flush()
		close(j.done)
	})
}

func (j *Journal) writer() {
	for {
		select {
		case r := <-j.records:
			j.write(r)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) write(r journalRecord) {
	switch {
	case r.flushed != nil:
		close(r.flushed)
	case r.transition != nil:
		t := r.transition
		if t.Event == orchestrator.EventStarted {
			j.mode, j.runID = t.To.String(), t.RunID
		} else {
			j.mode, j.runID = orchestrator.ModeIdle.String(), ""
		}
		if err := j.db.RecordTransition(*t); err != nil {
			j.logf("failed to record transition: %v", err)
			return
		}
		j.written.Add(1)
	case r.command != nil:
		c := r.command
		if err := j.db.RecordCommand(j.runID, j.mode, c.action, c.cmd, c.at); err != nil {
			j.logf("failed to record motor command: %v", err)
			return
		}
		j.written.Add(1)
	}
}
