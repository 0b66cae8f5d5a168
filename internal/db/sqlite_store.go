package db

import (
	"context"
	"database/sql"
	"encoding/json"
	goerr "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

// SQLiteStore persists the registry in a single SQLite file. Prices and
// deviation counters are stored as decimal TEXT so the full uint64 range
// survives; timestamps are unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	log *logan.Entry
}

var (
	_ services.RegistryStore  = (*SQLiteStore)(nil)
	_ services.ChallengeStore = (*SQLiteStore)(nil)
)

// Open creates the parent directory and opens path with a busy timeout.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create sqlite dir")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite")
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteStore(db *sql.DB, log *logan.Entry) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if log == nil {
		log = logan.New()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrap(err, "failed to apply sqlite pragma "+stmt)
		}
	}
	return &SQLiteStore{db: db, log: log.WithField("component", "sqlite")}, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse stored integer")
	}
	return v, nil
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

const participantColumns = `address, name, email, registered, approved, proposal_count, average_deviation, registered_at, updated_at`

func scanParticipant(row rowScanner) (*services.Participant, error) {
	var (
		addr, count, avg     string
		registered, approved int
		regAt, updAt         int64
		p                    services.Participant
	)
	if err := row.Scan(&addr, &p.Name, &p.Email, &registered, &approved, &count, &avg, &regAt, &updAt); err != nil {
		return nil, err
	}
	var err error
	if p.ProposalCount, err = parseU64(count); err != nil {
		return nil, err
	}
	if p.AverageDeviation, err = parseU64(avg); err != nil {
		return nil, err
	}
	p.Address = common.HexToAddress(addr)
	p.Registered = registered != 0
	p.Approved = approved != 0
	p.RegisteredAt = fromNanos(regAt)
	p.UpdatedAt = fromNanos(updAt)
	return &p, nil
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, addr common.Address) (*services.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE address = ?`, addr.Hex())
	p, err := scanParticipant(row)
	if goerr.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select participant")
	}
	return p, nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]*services.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY registered_at, address`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select participants")
	}
	defer rows.Close()
	out := []*services.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan participant")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountParticipants(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count participants")
	}
	return n, nil
}

func (s *SQLiteStore) InsertParticipant(ctx context.Context, p *services.Participant) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(address) DO NOTHING`,
		p.Address.Hex(), p.Name, p.Email, boolToInt(p.Registered), boolToInt(p.Approved),
		u64(p.ProposalCount), u64(p.AverageDeviation), nanos(p.RegisteredAt), nanos(p.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to insert participant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrAlreadyRegistered
	}
	return nil
}

func (s *SQLiteStore) UpdateParticipant(ctx context.Context, p *services.Participant) error {
	return updateParticipant(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateParticipant(ctx context.Context, ex execer, p *services.Participant) error {
	res, err := ex.ExecContext(ctx, `UPDATE participants SET name = ?, email = ?, registered = ?, approved = ?,
		proposal_count = ?, average_deviation = ?, updated_at = ? WHERE address = ?`,
		p.Name, p.Email, boolToInt(p.Registered), boolToInt(p.Approved),
		u64(p.ProposalCount), u64(p.AverageDeviation), nanos(p.UpdatedAt), p.Address.Hex())
	if err != nil {
		return errors.Wrap(err, "failed to update participant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrNotRegistered
	}
	return nil
}

func (s *SQLiteStore) InsertSession(ctx context.Context, sess *services.Session) error {
	images, err := json.Marshal(sess.ProductImages)
	if err != nil {
		return errors.Wrap(err, "failed to encode product images")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (address, seq, product_name, product_description,
		product_images, created_at, duration_ns, deadline, state) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.Address.Hex(), sess.Seq, sess.ProductName, sess.ProductDescription, string(images),
		nanos(sess.CreatedAt), int64(sess.Duration), nanos(sess.Deadline), string(sess.State))
	if err != nil {
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

const sessionColumns = `address, seq, product_name, product_description, product_images, created_at,
	duration_ns, deadline, state, suggested_price, real_price, ended_at`

func scanSession(row rowScanner) (*services.Session, error) {
	var (
		addr, images, state, suggested, realPrice string
		created, duration, deadline               int64
		ended                                     sql.NullInt64
		sess                                      services.Session
	)
	if err := row.Scan(&addr, &sess.Seq, &sess.ProductName, &sess.ProductDescription, &images,
		&created, &duration, &deadline, &state, &suggested, &realPrice, &ended); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &sess.ProductImages); err != nil {
		return nil, errors.Wrap(err, "failed to decode product images")
	}
	var err error
	if sess.SuggestedPrice, err = parseU64(suggested); err != nil {
		return nil, err
	}
	if sess.RealPrice, err = parseU64(realPrice); err != nil {
		return nil, err
	}
	sess.Address = common.HexToAddress(addr)
	sess.CreatedAt = fromNanos(created)
	sess.Duration = time.Duration(duration)
	sess.Deadline = fromNanos(deadline)
	sess.State = services.SessionState(state)
	if ended.Valid {
		sess.EndedAt = fromNanos(ended.Int64)
	}
	sess.Proposals = map[common.Address]services.Proposal{}
	return &sess, nil
}

// loadProposals fills Proposals for every session in byAddr. An empty filter
// loads proposals for all sessions.
func (s *SQLiteStore) loadProposals(ctx context.Context, byAddr map[string]*services.Session, only string) error {
	query := `SELECT session, participant, price, submitted_at FROM proposals`
	var args []any
	if only != "" {
		query += ` WHERE session = ?`
		args = append(args, only)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to select proposals")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			session, participant, price string
			at                          int64
		)
		if err := rows.Scan(&session, &participant, &price, &at); err != nil {
			return errors.Wrap(err, "failed to scan proposal")
		}
		sess, ok := byAddr[session]
		if !ok {
			continue
		}
		v, err := parseU64(price)
		if err != nil {
			return err
		}
		sess.Proposals[common.HexToAddress(participant)] = services.Proposal{Price: v, SubmittedAt: fromNanos(at)}
	}
	return rows.Err()
}

func (s *SQLiteStore) GetSession(ctx context.Context, addr common.Address) (*services.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE address = ?`, addr.Hex())
	sess, err := scanSession(row)
	if goerr.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select session")
	}
	if err := s.loadProposals(ctx, map[string]*services.Session{addr.Hex(): sess}, addr.Hex()); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*services.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select sessions")
	}
	out := []*services.Session{}
	byAddr := map[string]*services.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan session")
		}
		out = append(out, sess)
		byAddr[sess.Address.Hex()] = sess
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := s.loadProposals(ctx, byAddr, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count sessions")
	}
	return n, nil
}

// PutProposal upserts only while the session is open.
func (s *SQLiteStore) PutProposal(ctx context.Context, session, participant common.Address, p services.Proposal) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO proposals (session, participant, price, submitted_at)
		SELECT address, ?, ?, ? FROM sessions WHERE address = ? AND state = 'open'
		ON CONFLICT(session, participant) DO UPDATE SET price = excluded.price, submitted_at = excluded.submitted_at`,
		participant.Hex(), u64(p.Price), nanos(p.SubmittedAt), session.Hex())
	if err != nil {
		return errors.Wrap(err, "failed to upsert proposal")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrSessionClosed
	}
	return nil
}

// SettleSession flips the session from open to ended and writes every
// participant in one transaction. The state guard in the UPDATE makes a
// second settle fail with ErrAlreadyEnded.
func (s *SQLiteStore) SettleSession(ctx context.Context, sess *services.Session, participants []*services.Participant) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.WithError(rbErr).Error("failed to rollback settle")
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET state = ?, suggested_price = ?, real_price = ?, ended_at = ?
		WHERE address = ? AND state = 'open'`,
		string(services.SessionEnded), u64(sess.SuggestedPrice), u64(sess.RealPrice), nanos(sess.EndedAt), sess.Address.Hex())
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if qErr := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE address = ?`, sess.Address.Hex()).Scan(&exists); qErr != nil {
			return errors.Wrap(qErr, "failed to check session")
		}
		if exists == 0 {
			return services.NewNotFoundError("session not found")
		}
		return services.ErrAlreadyEnded
	}
	for _, p := range participants {
		if err = updateParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit settle")
	}
	return nil
}

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		nanos(e.Time), e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		s.log.WithError(err).WithField("action", e.Action).Error("failed to insert audit entry")
	}
}

func (s *SQLiteStore) ListAudit(ctx context.Context) ([]services.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time, actor, action, target, note FROM audit ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select audit")
	}
	defer rows.Close()
	out := []services.AuditEntry{}
	for rows.Next() {
		var (
			e  services.AuditEntry
			at int64
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		e.Time = fromNanos(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutChallenge(ctx context.Context, c *services.Challenge) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO challenges (address, nonce, message, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET nonce = excluded.nonce, message = excluded.message, expires_at = excluded.expires_at`,
		c.Address.Hex(), c.Nonce, c.Message, nanos(c.ExpiresAt))
	if err != nil {
		return errors.Wrap(err, "failed to upsert challenge")
	}
	return nil
}

func (s *SQLiteStore) TakeChallenge(ctx context.Context, addr common.Address) (*services.Challenge, error) {
	var (
		c  = services.Challenge{Address: addr}
		at int64
	)
	err := s.db.QueryRowContext(ctx, `DELETE FROM challenges WHERE address = ? RETURNING nonce, message, expires_at`, addr.Hex()).
		Scan(&c.Nonce, &c.Message, &at)
	if goerr.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to take challenge")
	}
	c.ExpiresAt = fromNanos(at)
	return &c, nil
}
