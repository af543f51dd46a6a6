package cdc

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// CreateSlotIfNotExists creates the logical replication slot with the
// pgoutput plugin. An already-existing slot is not an error.
func CreateSlotIfNotExists(ctx context.Context, cfg *ReplicationConfig) error {
	connCfg, err := pgconn.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse replication url: %w", err)
	}
	if cfg.Username != "" {
		connCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	connCfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect for replication: %w", err)
	}
	defer conn.Close(ctx)

	result, err := pglogrepl.CreateReplicationSlot(
		ctx,
		conn,
		cfg.SlotName,
		outputPlugin,
		pglogrepl.CreateReplicationSlotOptions{},
	)
	if err != nil {
		// 42710: duplicate_object, the slot is already there
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "42710" {
			return nil
		}
		return fmt.Errorf("create replication slot: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"slot": result.SlotName,
		"lsn":  result.ConsistentPoint,
	}).Info("created replication slot")
	return nil
}

// CreatePublicationIfNotExists creates the publication over all tables when
// it is missing. Uses a regular (non-replication) connection.
func CreatePublicationIfNotExists(ctx context.Context, cfg *ReplicationConfig) error {
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Username != "" {
		connCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)",
		cfg.PublicationName,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check publication: %w", err)
	}

	if !exists {
		_, err = conn.Exec(ctx,
			fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", cfg.PublicationName),
		)
		if err != nil {
			return fmt.Errorf("create publication: %w", err)
		}
		logrus.WithField("publication", cfg.PublicationName).Info("created publication")
	}

	return nil
}
