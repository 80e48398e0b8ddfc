package database

import (
	"context"
	"database/sql"
	"errors"
)

type queries struct {
	get      string
	insert   string
	put      string
	scan     string
	scanArgs func(prefix string) []any
}

type sqlStore struct {
	conn  *sql.DB
	table Table
	q     queries
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx, s.q.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get " + string(s.table), Key: key, Err: err}
	}

	return value, nil
}

func (s *sqlStore) Insert(ctx context.Context, key string, value []byte) error {
	res, err := s.conn.ExecContext(ctx, s.q.insert, key, value)
	if err != nil {
		return &StoreError{Op: "insert " + string(s.table), Key: key, Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "insert " + string(s.table), Key: key, Err: err}
	}
	if n == 0 {
		return ErrKeyExists
	}

	return nil
}

func (s *sqlStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.conn.ExecContext(ctx, s.q.put, key, value); err != nil {
		return &StoreError{Op: "put " + string(s.table), Key: key, Err: err}
	}

	return nil
}

func (s *sqlStore) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, s.q.scan, s.q.scanArgs(prefix)...)
	if err != nil {
		return nil, &StoreError{Op: "scan " + string(s.table), Key: prefix, Err: err}
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, &StoreError{Op: "scan " + string(s.table), Key: prefix, Err: err}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "scan " + string(s.table), Key: prefix, Err: err}
	}

	return entries, nil
}
