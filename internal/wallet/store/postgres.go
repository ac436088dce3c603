package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// Postgres-backed stores. Mutations issued inside a service unit of work
// join the SQL transaction carried in the context (pkg/platform/tx), so an
// execute that touches wallet, ledger and confirmations commits or rolls
// back as one.

const uniqueViolation = "23505"

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execer(ctx context.Context, db *sql.DB) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- WalletStore ---

// PostgresWallets persists wallet aggregates.
type PostgresWallets struct {
	db *sql.DB
}

func NewPostgresWallets(db *sql.DB) *PostgresWallets {
	return &PostgresWallets{db: db}
}

func (s *PostgresWallets) Create(ctx context.Context, wallet *models.Wallet) error {
	owners := make([]string, len(wallet.Owners))
	for i, o := range wallet.Owners {
		owners[i] = o.String()
	}
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO wallets (id, address, owners, threshold, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, wallet.ID.String(), wallet.Address.String(), pq.Array(owners),
		wallet.Threshold, int64(wallet.Balance), wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (s *PostgresWallets) FindByID(ctx context.Context, id domain.WalletID) (*models.Wallet, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, address, owners, threshold, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, id.String())
	return scanWallet(row)
}

func (s *PostgresWallets) Update(ctx context.Context, wallet *models.Wallet) error {
	owners := make([]string, len(wallet.Owners))
	for i, o := range wallet.Owners {
		owners[i] = o.String()
	}
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE wallets
		SET owners = $2, threshold = $3, balance = $4, updated_at = $5
		WHERE id = $1
	`, wallet.ID.String(), pq.Array(owners), wallet.Threshold,
		int64(wallet.Balance), wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresWallets) List(ctx context.Context) ([]*models.Wallet, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, address, owners, threshold, balance, created_at, updated_at
		FROM wallets
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []*models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wallet)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var (
		idStr     string
		addrStr   string
		ownerStrs []string
		threshold int
		balance   int64
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&idStr, &addrStr, pq.Array(&ownerStrs), &threshold, &balance, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	id, err := domain.ParseWalletID(idStr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored wallet id is invalid")
	}
	address, err := domain.ParseAddress(addrStr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored wallet address is invalid")
	}
	owners := make([]domain.Address, len(ownerStrs))
	for i, s := range ownerStrs {
		owner, err := domain.ParseAddress(s)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored owner address is invalid")
		}
		owners[i] = owner
	}

	return &models.Wallet{
		ID:        id,
		Address:   address,
		Owners:    owners,
		Threshold: threshold,
		Balance:   uint64(balance),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// --- LedgerStore ---

// PostgresLedger persists the append-only transaction ledger.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (s *PostgresLedger) Append(ctx context.Context, tx *models.Transaction) (uint64, error) {
	// The service serializes submissions per wallet, so MAX+1 cannot race
	// with itself; the primary key still guards against index reuse.
	row := execer(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO transactions
			(wallet_id, idx, target, amount, payload, executed, confirmations, submitted_by, submitted_at)
		SELECT $1, COALESCE(MAX(idx) + 1, 0), $2, $3, $4, FALSE, 0, $5, $6
		FROM transactions
		WHERE wallet_id = $1
		RETURNING idx
	`, tx.WalletID.String(), tx.Target.String(), int64(tx.Amount), tx.Payload,
		tx.SubmittedBy.String(), tx.SubmittedAt)

	var index int64
	if err := row.Scan(&index); err != nil {
		if isUniqueViolation(err) {
			return 0, sentinel.ErrConflict
		}
		return 0, fmt.Errorf("append transaction: %w", err)
	}
	tx.Index = uint64(index)
	return tx.Index, nil
}

func (s *PostgresLedger) Find(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT wallet_id, idx, target, amount, payload, executed, confirmations, submitted_by, submitted_at, executed_at
		FROM transactions
		WHERE wallet_id = $1 AND idx = $2
	`, walletID.String(), int64(index))
	return scanTransaction(row)
}

func (s *PostgresLedger) List(ctx context.Context, walletID domain.WalletID) ([]*models.Transaction, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT wallet_id, idx, target, amount, payload, executed, confirmations, submitted_by, submitted_at, executed_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY idx
	`, walletID.String())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresLedger) Count(ctx context.Context, walletID domain.WalletID) (uint64, error) {
	var count int64
	err := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE wallet_id = $1
	`, walletID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return uint64(count), nil
}

func (s *PostgresLedger) Update(ctx context.Context, tx *models.Transaction) error {
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE transactions
		SET executed = $3, confirmations = $4, executed_at = $5
		WHERE wallet_id = $1 AND idx = $2
	`, tx.WalletID.String(), int64(tx.Index), tx.Executed, tx.Confirmations, tx.ExecutedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		walletIDStr   string
		index         int64
		targetStr     string
		amount        int64
		payload       []byte
		executed      bool
		confirmations int
		submittedBy   string
		submittedAt   time.Time
		executedAt    sql.NullTime
	)
	err := row.Scan(&walletIDStr, &index, &targetStr, &amount, &payload,
		&executed, &confirmations, &submittedBy, &submittedAt, &executedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	walletID, err := domain.ParseWalletID(walletIDStr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored wallet id is invalid")
	}
	target, err := domain.ParseAddress(targetStr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored target address is invalid")
	}
	proposer, err := domain.ParseAddress(submittedBy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored proposer address is invalid")
	}

	tx := &models.Transaction{
		WalletID:      walletID,
		Index:         uint64(index),
		Target:        target,
		Amount:        uint64(amount),
		Payload:       payload,
		Executed:      executed,
		Confirmations: confirmations,
		SubmittedBy:   proposer,
		SubmittedAt:   submittedAt,
	}
	if executedAt.Valid {
		at := executedAt.Time
		tx.ExecutedAt = &at
	}
	return tx, nil
}

// --- ConfirmationStore ---

// PostgresConfirmations persists per-transaction confirmation records.
type PostgresConfirmations struct {
	db *sql.DB
}

func NewPostgresConfirmations(db *sql.DB) *PostgresConfirmations {
	return &PostgresConfirmations{db: db}
}

func (s *PostgresConfirmations) Add(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error {
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO confirmations (wallet_id, idx, owner, confirmed_at)
		VALUES ($1, $2, $3, NOW())
	`, walletID.String(), int64(index), owner.String())
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("add confirmation: %w", err)
	}
	return nil
}

func (s *PostgresConfirmations) Remove(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error {
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		DELETE FROM confirmations
		WHERE wallet_id = $1 AND idx = $2 AND owner = $3
	`, walletID.String(), int64(index), owner.String())
	if err != nil {
		return fmt.Errorf("remove confirmation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove confirmation: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresConfirmations) IsConfirmed(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) (bool, error) {
	var exists bool
	err := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM confirmations
			WHERE wallet_id = $1 AND idx = $2 AND owner = $3
		)
	`, walletID.String(), int64(index), owner.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check confirmation: %w", err)
	}
	return exists, nil
}

func (s *PostgresConfirmations) Count(ctx context.Context, walletID domain.WalletID, index uint64) (int, error) {
	var count int
	err := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM confirmations WHERE wallet_id = $1 AND idx = $2
	`, walletID.String(), int64(index)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count confirmations: %w", err)
	}
	return count, nil
}

func (s *PostgresConfirmations) Confirmers(ctx context.Context, walletID domain.WalletID, index uint64) ([]domain.Address, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT owner FROM confirmations
		WHERE wallet_id = $1 AND idx = $2
		ORDER BY confirmed_at, owner
	`, walletID.String(), int64(index))
	if err != nil {
		return nil, fmt.Errorf("list confirmers: %w", err)
	}
	defer rows.Close()

	var out []domain.Address
	for rows.Next() {
		var ownerStr string
		if err := rows.Scan(&ownerStr); err != nil {
			return nil, fmt.Errorf("scan confirmer: %w", err)
		}
		owner, err := domain.ParseAddress(ownerStr)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored owner address is invalid")
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}
