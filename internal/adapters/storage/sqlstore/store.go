// Package sqlstore implements the version log over database/sql for any supported dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

var _ app.Repository = (*Store)(nil)

// orderSequence names the row holding the global transaction order counter.
const orderSequence = "transaction_order"

// Dialect captures the differences between database engines.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders as $1, $2, ...
	Numbered bool
	// UniqueViolation reports the violated constraint for unique-key errors.
	UniqueViolation func(error) (constraint string, ok bool)
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store represents the SQL version log.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Schema returns the DDL statements applied by Migrate, in order.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sequences (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		);`,
		`INSERT INTO sequences(name, value) VALUES ('` + orderSequence + `', 0) ON CONFLICT(name) DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS workbaskets (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			approver TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			envelope_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			submitted_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			workbasket_id TEXT NOT NULL REFERENCES workbaskets(id),
			tx_order BIGINT NOT NULL UNIQUE,
			partition_name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version_groups (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			identity_key TEXT NOT NULL,
			current_version_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS versions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			version_group_id TEXT NOT NULL REFERENCES version_groups(id),
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			predecessor_id TEXT NOT NULL DEFAULT '',
			update_type TEXT NOT NULL,
			valid_from TEXT NOT NULL,
			valid_to TEXT,
			identity_key TEXT NOT NULL,
			natural_key TEXT NOT NULL DEFAULT '',
			fields_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			CONSTRAINT versions_group_tx_key UNIQUE(version_group_id, transaction_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_workbasket ON transactions(workbasket_id);`,
		`CREATE INDEX IF NOT EXISTS idx_workbaskets_status ON workbaskets(status);`,
		`CREATE INDEX IF NOT EXISTS idx_versions_kind_identity ON versions(kind, identity_key);`,
		`CREATE INDEX IF NOT EXISTS idx_versions_transaction ON versions(transaction_id);`,
		`CREATE INDEX IF NOT EXISTS idx_versions_natural ON versions(natural_key);`,
	}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the requested operation.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside one database transaction.
func (s *Store) Atomic(ctx context.Context, fn func(app.Writer) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&queries{q: tx, d: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) reader() *queries {
	return &queries{q: s.db, d: s.dialect}
}

// GetWorkbasket returns a workbasket by id.
func (s *Store) GetWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.reader().GetWorkbasket(ctx, id)
}

// ListWorkbaskets lists workbaskets.
func (s *Store) ListWorkbaskets(ctx context.Context, f app.WorkbasketFilter) ([]domain.Workbasket, error) {
	return s.reader().ListWorkbaskets(ctx, f)
}

// GetTransaction returns a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.reader().GetTransaction(ctx, id)
}

// ListTransactions lists transactions in order.
func (s *Store) ListTransactions(ctx context.Context, f app.TransactionFilter) ([]domain.Transaction, error) {
	return s.reader().ListTransactions(ctx, f)
}

// GetVersionGroup returns a version group by id.
func (s *Store) GetVersionGroup(ctx context.Context, id string) (domain.VersionGroup, error) {
	return s.reader().GetVersionGroup(ctx, id)
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(ctx context.Context, id string) (domain.TrackedEntity, error) {
	return s.reader().GetVersion(ctx, id)
}

// LoadHistory loads matching versions with one joined query.
func (s *Store) LoadHistory(ctx context.Context, f app.HistoryFilter) (domain.History, error) {
	return s.reader().LoadHistory(ctx, f)
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner describes scanner behavior required by callers.
type scanner interface {
	Scan(dest ...any) error
}

// queries runs statements against a database or an open transaction.
type queries struct {
	q dbtx
	d Dialect
}

func (r *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, r.d.Rebind(query), args...)
	if err != nil {
		return nil, r.translate(err)
	}
	return res, nil
}

func (r *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.Rebind(query), args...)
}

func (r *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.Rebind(query), args...)
}

// translate maps unique-key violations onto ordering errors.
func (r *queries) translate(err error) error {
	if r.d.UniqueViolation == nil {
		return err
	}
	constraint, ok := r.d.UniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(constraint, "tx_order"):
		return domain.OrderingError(domain.ErrDuplicateOrder)
	case strings.Contains(constraint, "version_group_id"), strings.Contains(constraint, "versions_group_tx"):
		return domain.OrderingError(domain.ErrGroupTwiceInTransaction)
	default:
		return err
	}
}

const workbasketColumns = `id, title, reason, author, approver, status, failure_reason, envelope_id, created_at, updated_at, submitted_at`

func (r *queries) GetWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	row := r.queryRow(ctx, `SELECT `+workbasketColumns+` FROM workbaskets WHERE id = ?`, id)
	wb, err := scanWorkbasket(row)
	if err != nil {
		return domain.Workbasket{}, notFound(err, "workbasket", id)
	}
	return wb, nil
}

func (r *queries) ListWorkbaskets(ctx context.Context, f app.WorkbasketFilter) ([]domain.Workbasket, error) {
	query := `SELECT ` + workbasketColumns + ` FROM workbaskets`
	args := make([]any, 0, len(f.Statuses))
	if len(f.Statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Workbasket, 0)
	for rows.Next() {
		wb, err := scanWorkbasket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wb)
	}
	return out, rows.Err()
}

const transactionColumns = `id, workbasket_id, tx_order, partition_name, created_at, updated_at`

func (r *queries) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return domain.Transaction{}, notFound(err, "transaction", id)
	}
	return tx, nil
}

func (r *queries) ListTransactions(ctx context.Context, f app.TransactionFilter) ([]domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if len(f.NaturalKeys) > 0 {
		where = append(where, `v.version_group_id IN (SELECT n.version_group_id FROM versions n WHERE n.natural_key IN (`+placeholders(len(f.NaturalKeys))+`))`)
		for _, key := range f.NaturalKeys {
			args = append(args, key)
		}
	}
	if f.WorkbasketID != "" {
		where = append(where, `t.workbasket_id = ?`)
		args = append(args, f.WorkbasketID)
	}
	if len(f.Partitions) > 0 {
		where = append(where, `t.partition_name IN (`+placeholders(len(f.Partitions))+`)`)
		for _, p := range f.Partitions {
			args = append(args, string(p))
		}
	}
	if f.AfterOrder > 0 {
		where = append(where, `t.tx_order > ?`)
		args = append(args, f.AfterOrder)
	}
	if f.ApprovedOnly {
		clause, approvedArgs := approvedClause("w")
		where = append(where, clause)
		args = append(args, approvedArgs...)
	}
	query := `SELECT t.id, t.workbasket_id, t.tx_order, t.partition_name, t.created_at, t.updated_at
		FROM transactions t JOIN workbaskets w ON w.id = t.workbasket_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY t.tx_order ASC`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *queries) GetVersionGroup(ctx context.Context, id string) (domain.VersionGroup, error) {
	var (
		g          domain.VersionGroup
		kindRaw    string
		createdRaw string
	)
	err := r.queryRow(ctx, `SELECT id, kind, identity_key, current_version_id, created_at FROM version_groups WHERE id = ?`, id).
		Scan(&g.ID, &kindRaw, &g.IdentityKey, &g.CurrentVersionID, &createdRaw)
	if err != nil {
		return domain.VersionGroup{}, notFound(err, "version group", id)
	}
	g.Kind = domain.Kind(kindRaw)
	g.CreatedAt = parseTS(createdRaw)
	return g, nil
}

const versionColumns = `v.id, v.kind, v.version_group_id, v.transaction_id, v.predecessor_id, v.update_type, v.valid_from, v.valid_to, v.identity_key, v.natural_key, v.fields_json, v.created_at`

func (r *queries) GetVersion(ctx context.Context, id string) (domain.TrackedEntity, error) {
	row := r.queryRow(ctx, `SELECT `+versionColumns+` FROM versions v WHERE v.id = ?`, id)
	v, err := scanVersion(row)
	if err != nil {
		return domain.TrackedEntity{}, notFound(err, "version", id)
	}
	return v, nil
}

func (r *queries) LoadHistory(ctx context.Context, f app.HistoryFilter) (domain.History, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Kinds) > 0 {
		where = append(where, `v.kind IN (`+placeholders(len(f.Kinds))+`)`)
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if len(f.IdentityKeys) > 0 {
		where = append(where, `v.identity_key IN (`+placeholders(len(f.IdentityKeys))+`)`)
		for _, key := range f.IdentityKeys {
			args = append(args, key)
		}
	}
	if len(f.GroupIDs) > 0 {
		where = append(where, `v.version_group_id IN (`+placeholders(len(f.GroupIDs))+`)`)
		for _, id := range f.GroupIDs {
			args = append(args, id)
		}
	}
	if f.WorkbasketID != "" {
		where = append(where, `t.workbasket_id = ?`)
		args = append(args, f.WorkbasketID)
	}
	if f.AfterOrder > 0 {
		where = append(where, `t.tx_order > ?`)
		args = append(args, f.AfterOrder)
	}
	if f.ApprovedOnly {
		clause, approvedArgs := approvedClause("w")
		where = append(where, clause)
		args = append(args, approvedArgs...)
	}
	query := `SELECT ` + versionColumns + `,
			t.id, t.workbasket_id, t.tx_order, t.partition_name, t.created_at, t.updated_at,
			w.` + strings.ReplaceAll(workbasketColumns, ", ", ", w.") + `
		FROM versions v
		JOIN transactions t ON t.id = v.transaction_id
		JOIN workbaskets w ON w.id = t.workbasket_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY t.tx_order ASC, v.id ASC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return domain.History{}, err
	}
	defer rows.Close()
	h := domain.NewHistory()
	for rows.Next() {
		v, tx, wb, err := scanHistoryRow(rows)
		if err != nil {
			return domain.History{}, err
		}
		h.Add(v, tx, wb)
	}
	if err := rows.Err(); err != nil {
		return domain.History{}, err
	}
	return h, nil
}

func (r *queries) NextOrder(ctx context.Context) (int64, error) {
	var order int64
	err := r.queryRow(ctx, `UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value`, orderSequence).Scan(&order)
	if err != nil {
		return 0, fmt.Errorf("next transaction order: %w", err)
	}
	return order, nil
}

func (r *queries) CreateWorkbasket(ctx context.Context, wb domain.Workbasket) error {
	_, err := r.exec(ctx, `INSERT INTO workbaskets(`+workbasketColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wb.ID, wb.Title, wb.Reason, wb.Author, wb.Approver, string(wb.Status), wb.FailureReason, wb.EnvelopeID,
		ts(wb.CreatedAt), ts(wb.UpdatedAt), nullableTS(wb.SubmittedAt),
	)
	return err
}

func (r *queries) UpdateWorkbasket(ctx context.Context, wb domain.Workbasket, expected domain.WorkbasketStatus) error {
	res, err := r.exec(ctx, `
		UPDATE workbaskets
		SET title = ?, reason = ?, author = ?, approver = ?, status = ?, failure_reason = ?, envelope_id = ?, updated_at = ?, submitted_at = ?
		WHERE id = ? AND status = ?`,
		wb.Title, wb.Reason, wb.Author, wb.Approver, string(wb.Status), wb.FailureReason, wb.EnvelopeID,
		ts(wb.UpdatedAt), nullableTS(wb.SubmittedAt), wb.ID, string(expected),
	)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		if !errors.Is(err, app.ErrNotFound) {
			return err
		}
		if _, getErr := r.GetWorkbasket(ctx, wb.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("workbasket %s not in %s: %w", wb.ID, expected, app.ErrConcurrentUpdate)
	}
	return nil
}

func (r *queries) DeleteWorkbasket(ctx context.Context, id string) error {
	if _, err := r.GetWorkbasket(ctx, id); err != nil {
		return err
	}
	rows, err := r.query(ctx, `
		SELECT DISTINCT v.version_group_id FROM versions v
		JOIN transactions t ON t.id = v.transaction_id
		WHERE t.workbasket_id = ?`, id)
	if err != nil {
		return err
	}
	var groupIDs []string
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			_ = rows.Close()
			return err
		}
		groupIDs = append(groupIDs, groupID)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	stmts := []string{
		`DELETE FROM versions WHERE transaction_id IN (SELECT id FROM transactions WHERE workbasket_id = ?)`,
		`DELETE FROM transactions WHERE workbasket_id = ?`,
		`DELETE FROM workbaskets WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := r.exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("discard workbasket %s: %w", id, err)
		}
	}
	for _, groupID := range groupIDs {
		if _, err := r.exec(ctx, `DELETE FROM version_groups WHERE id = ? AND NOT EXISTS (SELECT 1 FROM versions WHERE version_group_id = ?)`, groupID, groupID); err != nil {
			return fmt.Errorf("discard version group %s: %w", groupID, err)
		}
	}
	return nil
}

func (r *queries) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := r.exec(ctx, `INSERT INTO transactions(`+transactionColumns+`) VALUES(?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.WorkbasketID, tx.Order, string(tx.Partition), ts(tx.CreatedAt), ts(tx.UpdatedAt),
	)
	return err
}

func (r *queries) UpdateTransaction(ctx context.Context, tx domain.Transaction) error {
	res, err := r.exec(ctx, `UPDATE transactions SET tx_order = ?, partition_name = ?, updated_at = ? WHERE id = ?`,
		tx.Order, string(tx.Partition), ts(tx.UpdatedAt), tx.ID,
	)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		return notFound(err, "transaction", tx.ID)
	}
	return nil
}

func (r *queries) CreateVersionGroup(ctx context.Context, g domain.VersionGroup) error {
	_, err := r.exec(ctx, `INSERT INTO version_groups(id, kind, identity_key, current_version_id, created_at) VALUES(?, ?, ?, ?, ?)`,
		g.ID, string(g.Kind), g.IdentityKey, g.CurrentVersionID, ts(g.CreatedAt),
	)
	return err
}

func (r *queries) SetCurrentVersion(ctx context.Context, groupID, versionID string) error {
	res, err := r.exec(ctx, `UPDATE version_groups SET current_version_id = ? WHERE id = ?`, versionID, groupID)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		return notFound(err, "version group", groupID)
	}
	return nil
}

func (r *queries) CreateVersion(ctx context.Context, v domain.TrackedEntity) error {
	_, err := r.exec(ctx, `
		INSERT INTO versions(id, kind, version_group_id, transaction_id, predecessor_id, update_type, valid_from, valid_to, identity_key, natural_key, fields_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, string(v.Kind), v.VersionGroupID, v.TransactionID, v.PredecessorID, string(v.UpdateType),
		v.Validity.StartString(), nullableDate(v.Validity.End), v.IdentityKey, v.NaturalKey, payloadText(v.Payload), ts(v.CreatedAt),
	)
	return err
}

// approvedClause matches workbaskets whose transactions are approved-visible.
func approvedClause(alias string) (string, []any) {
	statuses := domain.ApprovedStatuses()
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return alias + `.status IN (` + placeholders(len(statuses)) + `) AND ` + alias + `.approver <> ''`, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanWorkbasket(s scanner) (domain.Workbasket, error) {
	var (
		wb           domain.Workbasket
		statusRaw    string
		createdRaw   string
		updatedRaw   string
		submittedRaw sql.NullString
	)
	if err := s.Scan(
		&wb.ID, &wb.Title, &wb.Reason, &wb.Author, &wb.Approver, &statusRaw,
		&wb.FailureReason, &wb.EnvelopeID, &createdRaw, &updatedRaw, &submittedRaw,
	); err != nil {
		return domain.Workbasket{}, err
	}
	wb.Status = domain.WorkbasketStatus(statusRaw)
	wb.CreatedAt = parseTS(createdRaw)
	wb.UpdatedAt = parseTS(updatedRaw)
	wb.SubmittedAt = parseNullTS(submittedRaw)
	return wb, nil
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		tx           domain.Transaction
		partitionRaw string
		createdRaw   string
		updatedRaw   string
	)
	if err := s.Scan(&tx.ID, &tx.WorkbasketID, &tx.Order, &partitionRaw, &createdRaw, &updatedRaw); err != nil {
		return domain.Transaction{}, err
	}
	partition, err := domain.ParsePartition(partitionRaw)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s partition %q: %w", tx.ID, partitionRaw, err)
	}
	tx.Partition = partition
	tx.CreatedAt = parseTS(createdRaw)
	tx.UpdatedAt = parseTS(updatedRaw)
	return tx, nil
}

// versionDest holds scan targets for one version row.
type versionDest struct {
	v                  domain.TrackedEntity
	kindRaw, updateRaw string
	fromRaw            string
	toRaw              sql.NullString
	fieldsRaw          string
	createdRaw         string
}

func (d *versionDest) targets() []any {
	return []any{
		&d.v.ID, &d.kindRaw, &d.v.VersionGroupID, &d.v.TransactionID, &d.v.PredecessorID, &d.updateRaw,
		&d.fromRaw, &d.toRaw, &d.v.IdentityKey, &d.v.NaturalKey, &d.fieldsRaw, &d.createdRaw,
	}
}

func (d *versionDest) decode() (domain.TrackedEntity, error) {
	v := d.v
	v.Kind = domain.Kind(d.kindRaw)
	v.UpdateType = domain.UpdateType(d.updateRaw)
	start, err := domain.ParseDay(d.fromRaw)
	if err != nil {
		return domain.TrackedEntity{}, fmt.Errorf("decode version %s valid_from %q: %w", v.ID, d.fromRaw, err)
	}
	v.Validity.Start = start
	if d.toRaw.Valid && d.toRaw.String != "" {
		end, err := domain.ParseDay(d.toRaw.String)
		if err != nil {
			return domain.TrackedEntity{}, fmt.Errorf("decode version %s valid_to %q: %w", v.ID, d.toRaw.String, err)
		}
		v.Validity.End = &end
	}
	v.Payload = []byte(d.fieldsRaw)
	v.CreatedAt = parseTS(d.createdRaw)
	return v, nil
}

func scanVersion(s scanner) (domain.TrackedEntity, error) {
	var d versionDest
	if err := s.Scan(d.targets()...); err != nil {
		return domain.TrackedEntity{}, err
	}
	return d.decode()
}

func scanHistoryRow(s scanner) (domain.TrackedEntity, domain.Transaction, domain.Workbasket, error) {
	var (
		d            versionDest
		tx           domain.Transaction
		partitionRaw string
		txCreated    string
		txUpdated    string
		wb           domain.Workbasket
		statusRaw    string
		wbCreated    string
		wbUpdated    string
		submittedRaw sql.NullString
	)
	targets := append(d.targets(),
		&tx.ID, &tx.WorkbasketID, &tx.Order, &partitionRaw, &txCreated, &txUpdated,
		&wb.ID, &wb.Title, &wb.Reason, &wb.Author, &wb.Approver, &statusRaw,
		&wb.FailureReason, &wb.EnvelopeID, &wbCreated, &wbUpdated, &submittedRaw,
	)
	if err := s.Scan(targets...); err != nil {
		return domain.TrackedEntity{}, domain.Transaction{}, domain.Workbasket{}, err
	}
	v, err := d.decode()
	if err != nil {
		return domain.TrackedEntity{}, domain.Transaction{}, domain.Workbasket{}, err
	}
	partition, err := domain.ParsePartition(partitionRaw)
	if err != nil {
		return domain.TrackedEntity{}, domain.Transaction{}, domain.Workbasket{}, fmt.Errorf("transaction %s partition %q: %w", tx.ID, partitionRaw, err)
	}
	tx.Partition = partition
	tx.CreatedAt = parseTS(txCreated)
	tx.UpdatedAt = parseTS(txUpdated)
	wb.Status = domain.WorkbasketStatus(statusRaw)
	wb.CreatedAt = parseTS(wbCreated)
	wb.UpdatedAt = parseTS(wbUpdated)
	wb.SubmittedAt = parseNullTS(submittedRaw)
	return v, tx, wb, nil
}

// notFound maps missing rows to app.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, app.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, app.ErrNotFound)
	}
	return err
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func payloadText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t := parseTS(v.String)
	return &t
}
