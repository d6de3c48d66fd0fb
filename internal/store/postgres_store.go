package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swaprelay/internal/contract"
)

// PostgresStore persists the contract in PostgreSQL. Every commit is one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS relay_state (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    job_id TEXT NOT NULL,
    retry_delay BIGINT NOT NULL,
    creator TEXT NOT NULL,
    signers TEXT[] NOT NULL
);
CREATE TABLE IF NOT EXISTS withdraw_timestamps (
    deposit_id BIGINT NOT NULL,
    remaining_count BIGINT NOT NULL,
    stamped_at_ns BIGINT NOT NULL,
    PRIMARY KEY (deposit_id, remaining_count)
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// relayLockKey is the advisory lock id shared by every replica on the same database.
const relayLockKey int64 = 0x737772656c6179 // "swrelay"

// Lock takes a session advisory lock on a dedicated connection, serializing
// calls across replicas. It blocks until the lock is free or ctx is done.
func (p *PostgresStore) Lock(ctx context.Context) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, relayLockKey); err != nil {
		conn.Release()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, relayLockKey); err != nil {
			// The lock dies with the session; drop the connection rather than pool it.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

func (p *PostgresStore) LoadState(ctx context.Context) (*contract.State, error) {
	row := p.pool.QueryRow(ctx, `
SELECT owner, job_id, retry_delay, creator, signers
FROM relay_state
WHERE id = 1
`)

	var (
		st    contract.State
		delay int64
	)
	if err := row.Scan(&st.Owner, &st.JobID, &delay, &st.Metadata.Creator, &st.Metadata.Signers); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contract.ErrStateNotFound
		}
		return nil, err
	}
	st.RetryDelay = uint64(delay)
	return &st, nil
}

func (p *PostgresStore) Stamps(ctx context.Context, keys []contract.DepositKey) (map[contract.DepositKey]time.Time, error) {
	out := make(map[contract.DepositKey]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ids := make([]int64, len(keys))
	counts := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = int64(k.DepositID)
		counts[i] = int64(k.RemainingCount)
	}

	rows, err := p.pool.Query(ctx, `
SELECT w.deposit_id, w.remaining_count, w.stamped_at_ns
FROM withdraw_timestamps w
JOIN unnest($1::BIGINT[], $2::BIGINT[]) AS k(deposit_id, remaining_count)
  ON w.deposit_id = k.deposit_id AND w.remaining_count = k.remaining_count
`, ids, counts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, count, ns int64
		if err := rows.Scan(&id, &count, &ns); err != nil {
			return nil, err
		}
		out[contract.DepositKey{DepositID: uint32(id), RemainingCount: uint32(count)}] = time.Unix(0, ns)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Commit(ctx context.Context, mut contract.Mutation) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		if st := mut.State; st != nil {
			signers := st.Metadata.Signers
			if signers == nil {
				signers = []string{}
			}
			batch.Queue(`
INSERT INTO relay_state (id, owner, job_id, retry_delay, creator, signers)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET owner = EXCLUDED.owner,
    job_id = EXCLUDED.job_id,
    retry_delay = EXCLUDED.retry_delay,
    creator = EXCLUDED.creator,
    signers = EXCLUDED.signers
`, st.Owner, st.JobID, int64(st.RetryDelay), st.Metadata.Creator, signers)
		}
		for k, t := range mut.Stamps {
			batch.Queue(`
INSERT INTO withdraw_timestamps (deposit_id, remaining_count, stamped_at_ns)
VALUES ($1, $2, $3)
ON CONFLICT (deposit_id, remaining_count) DO UPDATE
SET stamped_at_ns = EXCLUDED.stamped_at_ns
`, int64(k.DepositID), int64(k.RemainingCount), t.UnixNano())
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
