package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vnlabs-io/assetd/types"
)

// PostgresStore persists node state in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and initializes the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS assets (
  id TEXT PRIMARY KEY,
  template_id BIGINT NOT NULL,
  name TEXT,
  description TEXT,
  status TEXT NOT NULL,
  issuer_pub_key TEXT NOT NULL,
  authorized_signers TEXT[],
  allow_transfers BOOLEAN NOT NULL DEFAULT FALSE,
  permission_flags BIGINT NOT NULL DEFAULT 0,
  initial_data JSONB,
  expiry_date TIMESTAMPTZ,
  superseded_by TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tokens (
  id TEXT PRIMARY KEY,
  asset_id TEXT NOT NULL,
  issue_number BIGINT NOT NULL,
  owner_pub_key TEXT NOT NULL,
  status TEXT NOT NULL,
  initial_data JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS instructions (
  id TEXT PRIMARY KEY,
  parent_id TEXT,
  initiating_node_id TEXT,
  sender_pub_key TEXT NOT NULL,
  signature BYTEA,
  asset_id TEXT,
  token_id TEXT,
  template_id BIGINT NOT NULL,
  contract TEXT NOT NULL,
  status TEXT NOT NULL,
  params JSONB,
  result JSONB,
  proposal_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS state_records (
  id TEXT PRIMARY KEY,
  scope TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  instruction_id TEXT NOT NULL,
  data JSONB,
  seq BIGSERIAL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS committees (
  asset_id TEXT PRIMARY KEY,
  members JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS wallets (
  pub_key TEXT PRIMARY KEY,
  instruction_id TEXT NOT NULL,
  token_id TEXT NOT NULL,
  balance BIGINT NOT NULL DEFAULT 0,
  expected BIGINT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tokens_asset ON tokens(asset_id);
CREATE INDEX IF NOT EXISTS idx_instructions_parent ON instructions(parent_id);
CREATE INDEX IF NOT EXISTS idx_instructions_asset_status ON instructions(asset_id, status);
CREATE INDEX IF NOT EXISTS idx_state_records_entity ON state_records(scope, entity_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_state_records_owner ON state_records(scope, entity_id, instruction_id);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// SaveAsset upserts an asset.
func (s *PostgresStore) SaveAsset(ctx context.Context, asset *types.Asset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO assets (id, template_id, name, description, status, issuer_pub_key, authorized_signers, allow_transfers, permission_flags, initial_data, expiry_date, superseded_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  authorized_signers = EXCLUDED.authorized_signers,
  superseded_by = EXCLUDED.superseded_by
`, asset.ID, int64(asset.TemplateID), asset.Name, asset.Description, asset.Status,
		asset.IssuerPubKey, asset.AuthorizedSigners, asset.AllowTransfers, asset.PermissionFlags,
		asset.InitialData, asset.ExpiryDate, nullableID(string(asset.SupersededBy)), asset.CreatedAt)
	return err
}

// LoadAsset loads an asset by id.
func (s *PostgresStore) LoadAsset(ctx context.Context, id types.AssetID) (*types.Asset, error) {
	var (
		a          types.Asset
		templateID int64
		superseded *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, template_id, name, description, status, issuer_pub_key, authorized_signers, allow_transfers, permission_flags, initial_data, expiry_date, superseded_by, created_at
FROM assets WHERE id=$1
`, id).Scan(&a.ID, &templateID, &a.Name, &a.Description, &a.Status, &a.IssuerPubKey,
		&a.AuthorizedSigners, &a.AllowTransfers, &a.PermissionFlags, &a.InitialData,
		&a.ExpiryDate, &superseded, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	a.TemplateID = types.TemplateID(templateID)
	if superseded != nil {
		a.SupersededBy = types.AssetID(*superseded)
	}
	return &a, nil
}

// ListAssets returns every stored asset.
func (s *PostgresStore) ListAssets(ctx context.Context) ([]*types.Asset, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, template_id, name, description, status, issuer_pub_key, authorized_signers, allow_transfers, permission_flags, initial_data, expiry_date, superseded_by, created_at
FROM assets ORDER BY created_at
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Asset
	for rows.Next() {
		var (
			a          types.Asset
			templateID int64
			superseded *string
		)
		if err := rows.Scan(&a.ID, &templateID, &a.Name, &a.Description, &a.Status, &a.IssuerPubKey,
			&a.AuthorizedSigners, &a.AllowTransfers, &a.PermissionFlags, &a.InitialData,
			&a.ExpiryDate, &superseded, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TemplateID = types.TemplateID(templateID)
		if superseded != nil {
			a.SupersededBy = types.AssetID(*superseded)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SaveToken upserts a token.
func (s *PostgresStore) SaveToken(ctx context.Context, token *types.Token) error {
	if token == nil {
		return fmt.Errorf("token is nil")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO tokens (id, asset_id, issue_number, owner_pub_key, status, initial_data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  owner_pub_key = EXCLUDED.owner_pub_key,
  status = EXCLUDED.status
`, token.ID, token.AssetID, int64(token.IssueNumber), token.OwnerPubKey, token.Status, token.InitialData, token.CreatedAt)
	return err
}

// LoadToken loads a token by id.
func (s *PostgresStore) LoadToken(ctx context.Context, id types.TokenID) (*types.Token, error) {
	var (
		t           types.Token
		issueNumber int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, asset_id, issue_number, owner_pub_key, status, initial_data, created_at
FROM tokens WHERE id=$1
`, id).Scan(&t.ID, &t.AssetID, &issueNumber, &t.OwnerPubKey, &t.Status, &t.InitialData, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	t.IssueNumber = uint64(issueNumber)
	return &t, nil
}

// LoadTokensByAsset returns every token issued under an asset.
func (s *PostgresStore) LoadTokensByAsset(ctx context.Context, id types.AssetID) ([]*types.Token, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, asset_id, issue_number, owner_pub_key, status, initial_data, created_at
FROM tokens WHERE asset_id=$1 ORDER BY issue_number
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Token
	for rows.Next() {
		var (
			t           types.Token
			issueNumber int64
		)
		if err := rows.Scan(&t.ID, &t.AssetID, &issueNumber, &t.OwnerPubKey, &t.Status, &t.InitialData, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.IssueNumber = uint64(issueNumber)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SaveInstruction upserts an instruction.
func (s *PostgresStore) SaveInstruction(ctx context.Context, in *types.Instruction) error {
	if in == nil {
		return fmt.Errorf("instruction is nil")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO instructions (id, parent_id, initiating_node_id, sender_pub_key, signature, asset_id, token_id, template_id, contract, status, params, result, proposal_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  result = EXCLUDED.result,
  proposal_id = EXCLUDED.proposal_id,
  updated_at = EXCLUDED.updated_at
`, in.ID, nullableID(string(in.ParentID)), in.InitiatingNodeID, in.SenderPubKey, in.Signature,
		nullableID(string(in.AssetID)), nullableID(string(in.TokenID)), int64(in.TemplateID),
		in.Contract, in.Status, in.Params, in.Result, nullableID(string(in.ProposalID)),
		in.CreatedAt, in.UpdatedAt)
	return err
}

// LoadInstruction loads an instruction by id.
func (s *PostgresStore) LoadInstruction(ctx context.Context, id types.InstructionID) (*types.Instruction, error) {
	in, err := scanInstruction(s.pool.QueryRow(ctx, `
SELECT id, parent_id, initiating_node_id, sender_pub_key, signature, asset_id, token_id, template_id, contract, status, params, result, proposal_id, created_at, updated_at
FROM instructions WHERE id=$1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("instruction %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return in, nil
}

// LoadChildInstructions returns the direct children of an instruction.
func (s *PostgresStore) LoadChildInstructions(ctx context.Context, parent types.InstructionID) ([]*types.Instruction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, parent_id, initiating_node_id, sender_pub_key, signature, asset_id, token_id, template_id, contract, status, params, result, proposal_id, created_at, updated_at
FROM instructions WHERE parent_id=$1 ORDER BY created_at
`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// LoadPendingInstructions returns an asset's Pending instructions in
// creation order.
func (s *PostgresStore) LoadPendingInstructions(ctx context.Context, asset types.AssetID) ([]*types.Instruction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, parent_id, initiating_node_id, sender_pub_key, signature, asset_id, token_id, template_id, contract, status, params, result, proposal_id, created_at, updated_at
FROM instructions WHERE asset_id=$1 AND status=$2 ORDER BY created_at, id
`, asset, types.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateInstructionStatus overwrites an instruction's status.
func (s *PostgresStore) UpdateInstructionStatus(ctx context.Context, id types.InstructionID, status types.InstructionStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE instructions SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateInstructionResult records the execution result and owning
// proposal, leaving the status untouched.
func (s *PostgresStore) UpdateInstructionResult(ctx context.Context, id types.InstructionID, result []byte, proposal types.ProposalID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE instructions SET result=$2, proposal_id=$3, updated_at=now() WHERE id=$1`,
		id, result, nullableID(string(proposal)))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendRecords appends a batch of state records in one transaction.
func (s *PostgresStore) AppendRecords(ctx context.Context, records []*types.StateRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		if r == nil {
			return fmt.Errorf("record is nil")
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO state_records (id, scope, entity_id, instruction_id, data, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (scope, entity_id, instruction_id) DO NOTHING
`, r.ID, r.Scope, r.EntityID, r.InstructionID, r.Data, r.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LoadRecords returns an entity's records in append order.
func (s *PostgresStore) LoadRecords(ctx context.Context, scope types.RecordScope, entityID string) ([]*types.StateRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, scope, entity_id, instruction_id, data, created_at
FROM state_records WHERE scope=$1 AND entity_id=$2 ORDER BY seq
`, scope, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.StateRecord
	for rows.Next() {
		var r types.StateRecord
		if err := rows.Scan(&r.ID, &r.Scope, &r.EntityID, &r.InstructionID, &r.Data, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveCommittee upserts an asset's committee configuration.
func (s *PostgresStore) SaveCommittee(ctx context.Context, committee *types.Committee) error {
	if committee == nil {
		return fmt.Errorf("committee is nil")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO committees (asset_id, members) VALUES ($1,$2)
ON CONFLICT (asset_id) DO UPDATE SET members = EXCLUDED.members
`, committee.AssetID, committee.Members)
	return err
}

// LoadCommittee loads the committee registered for an asset.
func (s *PostgresStore) LoadCommittee(ctx context.Context, id types.AssetID) (*types.Committee, error) {
	c := types.Committee{AssetID: id}
	err := s.pool.QueryRow(ctx, `SELECT members FROM committees WHERE asset_id=$1`, id).Scan(&c.Members)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("committee for asset %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// SaveWallet upserts an escrow wallet.
func (s *PostgresStore) SaveWallet(ctx context.Context, wallet *types.Wallet) error {
	if wallet == nil {
		return fmt.Errorf("wallet is nil")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO wallets (pub_key, instruction_id, token_id, balance, expected, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (pub_key) DO UPDATE SET
  balance = EXCLUDED.balance,
  status = EXCLUDED.status
`, wallet.PubKey, wallet.InstructionID, wallet.TokenID, int64(wallet.Balance), int64(wallet.Expected), wallet.Status, wallet.CreatedAt)
	return err
}

// LoadWallet loads an escrow wallet by public key.
func (s *PostgresStore) LoadWallet(ctx context.Context, pubKey string) (*types.Wallet, error) {
	var (
		w                 types.Wallet
		balance, expected int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT pub_key, instruction_id, token_id, balance, expected, status, created_at
FROM wallets WHERE pub_key=$1
`, pubKey).Scan(&w.PubKey, &w.InstructionID, &w.TokenID, &balance, &expected, &w.Status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", pubKey, ErrNotFound)
		}
		return nil, err
	}
	w.Balance = uint64(balance)
	w.Expected = uint64(expected)
	return &w, nil
}

// LoadActiveWalletForToken returns the Active wallet holding the token.
func (s *PostgresStore) LoadActiveWalletForToken(ctx context.Context, token types.TokenID) (*types.Wallet, error) {
	var (
		w                 types.Wallet
		balance, expected int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT pub_key, instruction_id, token_id, balance, expected, status, created_at
FROM wallets WHERE token_id=$1 AND status=$2
ORDER BY created_at DESC LIMIT 1
`, token, types.WalletActive).Scan(&w.PubKey, &w.InstructionID, &w.TokenID, &balance, &expected, &w.Status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active wallet for token %s: %w", token, ErrNotFound)
		}
		return nil, err
	}
	w.Balance = uint64(balance)
	w.Expected = uint64(expected)
	return &w, nil
}

// UpdateWallet overwrites a wallet's balance and status.
func (s *PostgresStore) UpdateWallet(ctx context.Context, pubKey string, balance uint64, status types.WalletStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE wallets SET balance=$2, status=$3 WHERE pub_key=$1`, pubKey, int64(balance), status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", pubKey, ErrNotFound)
	}
	return nil
}

// Close shuts down the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanInstruction(scanner interface{ Scan(dest ...any) error }) (*types.Instruction, error) {
	var (
		in                                     types.Instruction
		parentID, assetID, tokenID, proposalID *string
		templateID                             int64
	)
	if err := scanner.Scan(&in.ID, &parentID, &in.InitiatingNodeID, &in.SenderPubKey, &in.Signature,
		&assetID, &tokenID, &templateID, &in.Contract, &in.Status, &in.Params, &in.Result,
		&proposalID, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	in.TemplateID = types.TemplateID(templateID)
	if parentID != nil {
		in.ParentID = types.InstructionID(*parentID)
	}
	if assetID != nil {
		in.AssetID = types.AssetID(*assetID)
	}
	if tokenID != nil {
		in.TokenID = types.TokenID(*tokenID)
	}
	if proposalID != nil {
		in.ProposalID = types.ProposalID(*proposalID)
	}
	return &in, nil
}

func nullableID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
