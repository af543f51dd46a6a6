package cdc

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/sirupsen/logrus"
)

const (
	outputPlugin = "pgoutput"

	// statusInterval is the server keepalive hint: when the stream is idle
	// this long, a standby status update is sent anyway.
	statusInterval = 120 * time.Second

	// receiveTimeout bounds one blocking read so the session loop stays
	// responsive to shutdown and to the idle status tick.
	receiveTimeout = time.Second
)

// ReplicationConfig identifies the upstream database, slot, and publication.
type ReplicationConfig struct {
	URL             string
	Username        string
	Password        string
	SlotName        string
	PublicationName string
}

// replicationStream is what the session manager needs from a live logical
// replication session. Satisfied by Stream; faked in tests.
type replicationStream interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	SendStatus(ctx context.Context) error
	LastReceiveLSN() pglogrepl.LSN
	Close(ctx context.Context) error
}

// Stream is one logical replication session: a replication-mode connection
// with a started pgoutput stream on the configured slot and publication.
type Stream struct {
	conn           *pgconn.PgConn
	lastReceiveLSN pglogrepl.LSN
	lastStatusAt   time.Time
}

// OpenStream connects in replication mode and starts streaming from the
// slot's confirmed position. The server owns resumption: starting at LSN 0
// asks it to continue from wherever the slot last flushed.
func OpenStream(ctx context.Context, cfg *ReplicationConfig) (*Stream, error) {
	connCfg, err := pgconn.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse replication url: %w", err)
	}
	if cfg.Username != "" {
		connCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	connCfg.RuntimeParams["replication"] = "database"
	connCfg.RuntimeParams["client_encoding"] = "UTF8"

	conn, err := pgconn.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect for replication: %w", err)
	}

	ident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("identify system: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"system_id": ident.SystemID,
		"timeline":  ident.Timeline,
		"xlogpos":   ident.XLogPos,
		"slot":      cfg.SlotName,
	}).Info("replication connection established")

	pluginArguments := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", cfg.PublicationName),
	}
	err = pglogrepl.StartReplication(
		ctx,
		conn,
		cfg.SlotName,
		0,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArguments},
	)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("start replication on slot %s: %w", cfg.SlotName, err)
	}

	return &Stream{conn: conn, lastStatusAt: time.Now()}, nil
}

// ReadFrame returns the pgoutput payload of the next XLogData message, or
// nil when nothing arrived within the read deadline. Primary keepalives never
// surface as frames; those that request a reply are answered inline. The
// returned bytes may hold one or more whole protocol messages; callers drain
// them with the decoder.
func (s *Stream) ReadFrame(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, receiveTimeout)
	msg, err := s.conn.ReceiveMessage(rctx)
	cancel()
	if err != nil {
		if pgconn.Timeout(err) && ctx.Err() == nil {
			if time.Since(s.lastStatusAt) >= statusInterval {
				return nil, s.SendStatus(ctx)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("receive message: %w", err)
	}

	copyData, ok := msg.(*pgproto3.CopyData)
	if !ok || len(copyData.Data) == 0 {
		return nil, nil
	}

	switch copyData.Data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
		if err != nil {
			return nil, fmt.Errorf("parse keepalive: %w", err)
		}
		if pkm.ServerWALEnd > s.lastReceiveLSN {
			s.lastReceiveLSN = pkm.ServerWALEnd
		}
		if pkm.ReplyRequested {
			return nil, s.SendStatus(ctx)
		}
		return nil, nil

	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
		if err != nil {
			return nil, fmt.Errorf("parse xlog data: %w", err)
		}
		if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > s.lastReceiveLSN {
			s.lastReceiveLSN = end
		}
		return xld.WALData, nil
	}

	return nil, nil
}

// SendStatus acknowledges the last received LSN as written, flushed, and
// applied. This is what lets the server recycle WAL behind the slot.
func (s *Stream) SendStatus(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: s.lastReceiveLSN,
		WALFlushPosition: s.lastReceiveLSN,
		WALApplyPosition: s.lastReceiveLSN,
	})
	if err != nil {
		return fmt.Errorf("send standby status: %w", err)
	}
	s.lastStatusAt = time.Now()
	return nil
}

// LastReceiveLSN reports the highest WAL position seen on this stream.
func (s *Stream) LastReceiveLSN() pglogrepl.LSN {
	return s.lastReceiveLSN
}

func (s *Stream) Close(ctx context.Context) error {
	if s.conn != nil {
		return s.conn.Close(ctx)
	}
	return nil
}
