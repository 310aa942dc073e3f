// Package ingest feeds column sketches from a PostgreSQL logical replication
// stream: every INSERT/UPDATE seen on a tracked column is hashed and folded
// into that column's sketch, so cardinality estimates stay current without a
// batch job scanning the table.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgproto3/v2"

	"hlldb.dev/hlldb/internal/columnstore"
	"hlldb.dev/hlldb/internal/metrics"
)

// Config holds the connection and replication-slot settings for a listener.
type Config struct {
	DSN         string
	SlotName    string
	Publication string
}

// Listener streams logical replication changes from PostgreSQL and folds
// every column value it sees into the matching sketch in store.
type Listener struct {
	cfg    Config
	store  *columnstore.Store
	logger *slog.Logger

	conn      *pgconn.PgConn
	relations map[uint32]*pglogrepl.RelationMessage
	walPos    pglogrepl.LSN
	stopCh    chan struct{}
}

// NewListener builds a Listener that will fold replicated column values into
// store once Start is called.
func NewListener(cfg Config, store *columnstore.Store, logger *slog.Logger) *Listener {
	return &Listener{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		stopCh:    make(chan struct{}),
	}
}

// Start opens the replication connection, ensures the slot exists, begins
// streaming, and launches the background loop that consumes it. It returns
// once streaming has started; errors afterward are logged, not returned.
func (l *Listener) Start(ctx context.Context) error {
	connConfig, err := pgconn.ParseConfig(l.cfg.DSN + "?replication=database")
	if err != nil {
		return fmt.Errorf("ingest: parsing dsn: %w", err)
	}

	conn, err := pgconn.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("ingest: connecting: %w", err)
	}
	l.conn = conn

	_, err = pglogrepl.CreateReplicationSlot(ctx, l.conn, l.cfg.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{Temporary: false})
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "SQLSTATE 42710") {
			l.logger.Warn("could not create replication slot", "slot", l.cfg.SlotName, "error", err)
		}
	}

	l.logger.Info("starting logical replication", "slot", l.cfg.SlotName, "publication", l.cfg.Publication)
	err = pglogrepl.StartReplication(ctx, l.conn, l.cfg.SlotName, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{"proto_version '1'", fmt.Sprintf("publication_names '%s'", l.cfg.Publication)},
	})
	if err != nil {
		return fmt.Errorf("ingest: starting replication: %w", err)
	}

	go l.listen(ctx)
	return nil
}

// Stop halts the background loop and closes the replication connection.
func (l *Listener) Stop() {
	close(l.stopCh)
}

func (l *Listener) listen(ctx context.Context) {
	defer func() {
		if l.conn != nil {
			_ = l.conn.Close(ctx)
		}
	}()

	const standbyMessageTimeout = 10 * time.Second
	nextStandbyDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if time.Now().After(nextStandbyDeadline) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, l.conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: l.walPos}); err != nil {
				l.logger.Warn("failed to send standby status update", "error", err)
			}
			nextStandbyDeadline = time.Now().Add(standbyMessageTimeout)
		}

		recvCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, err := l.conn.ReceiveMessage(recvCtx)
		cancel()

		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			select {
			case <-l.stopCh:
				return
			default:
				l.logger.Error("replication receive failed, stopping listener", "error", err)
				return
			}
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				l.logger.Warn("failed to parse keepalive", "error", err)
				continue
			}
			if pkm.ReplyRequested {
				nextStandbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				l.logger.Warn("failed to parse XLogData", "error", err)
				continue
			}
			l.processLogicalMessage(xld.WALData)
			l.walPos = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
		}
	}
}

func (l *Listener) processLogicalMessage(data []byte) {
	msg, err := pglogrepl.Parse(data)
	if err != nil {
		l.logger.Warn("failed to parse logical message", "error", err)
		return
	}

	switch msg := msg.(type) {
	case *pglogrepl.RelationMessage:
		l.relations[msg.RelationID] = msg

	case *pglogrepl.InsertMessage:
		l.foldTuple(msg.RelationID, msg.Tuple)

	case *pglogrepl.UpdateMessage:
		l.foldTuple(msg.RelationID, msg.NewTuple)
	}
}

// foldTuple hashes every non-null text column value in tuple and folds it
// into that column's sketch. DELETE is intentionally not handled: a
// cardinality sketch cannot support element removal, so deletions leave
// prior estimates as an upper bound rather than corrupting the structure.
func (l *Listener) foldTuple(relationID uint32, tuple *pglogrepl.TupleData) {
	rel, ok := l.relations[relationID]
	if !ok || tuple == nil {
		return
	}
	table := rel.Namespace + "." + rel.RelationName

	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		if col.DataType != 't' { // only handle text-formatted values; 'n' is null, 'u' is unchanged toast
			metrics.IngestEventsTotal.WithLabelValues(table, "skipped").Inc()
			continue
		}

		key := columnstore.ColumnKey{Table: table, Column: rel.Columns[i].Name}
		h := xxhash.Sum64(col.Data)
		l.store.Update(key, h)
		metrics.IngestEventsTotal.WithLabelValues(table, "applied").Inc()
	}
}
