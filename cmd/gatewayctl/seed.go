package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML seed document. Secrets are given in plain text and
// hashed on Apply.
type Fixtures struct {
	Merchants []MerchantFixture  `yaml:"merchants"`
	Banks     []BankFixture      `yaml:"banks"`
	Staff     []StaffFixture     `yaml:"staff"`
	Blacklist []BlacklistFixture `yaml:"blacklist"`
}

type MerchantFixture struct {
	ID         string `yaml:"id"`
	PublicID   string `yaml:"public_id"`
	Name       string `yaml:"name"`
	APIKey     string `yaml:"api_key"`
	WebhookKey string `yaml:"webhook_key"`
	Inactive   bool   `yaml:"inactive"`
	Balance    string `yaml:"balance"`

	MinDeposit  string `yaml:"min_deposit"`
	MaxDeposit  string `yaml:"max_deposit"`
	MinWithdraw string `yaml:"min_withdraw"`
	MaxWithdraw string `yaml:"max_withdraw"`

	DepositIPs  []string `yaml:"deposit_ips"`
	WithdrawIPs []string `yaml:"withdraw_ips"`
	EnforceIPs  bool     `yaml:"enforce_ip_whitelist"`
}

type BankFixture struct {
	ID            string `yaml:"id"`
	BIN           string `yaml:"bin"`
	AccountNumber string `yaml:"account_number"`
	OwnerName     string `yaml:"owner_name"`
	DisplayName   string `yaml:"display_name"`
	Inactive      bool   `yaml:"inactive"`
}

type StaffFixture struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Ready    bool   `yaml:"ready"`
}

type BlacklistFixture struct {
	BankCode      string `yaml:"bank_code"`
	AccountNumber string `yaml:"account_number"`
}

// SecretHasher hashes plain credentials before they are stored.
type SecretHasher interface {
	Hash(secret string) (string, error)
}

// LoadFixtures reads and parses a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(raw)
}

// ParseFixtures decodes a fixture document, rejecting unknown keys.
func ParseFixtures(raw []byte) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &fx, nil
}

// Apply upserts every fixture into b and returns the number of records written.
func (f *Fixtures) Apply(ctx context.Context, b repository.Backend, hasher SecretHasher) (int, error) {
	n := 0
	for i, mf := range f.Merchants {
		m, err := mf.model(hasher)
		if err != nil {
			return n, fmt.Errorf("merchant %d: %w", i, err)
		}
		if err := b.UpsertMerchant(ctx, m); err != nil {
			return n, fmt.Errorf("upsert merchant %s: %w", m.PublicID, err)
		}
		n++
	}
	for i, bf := range f.Banks {
		if bf.ID == "" || bf.BIN == "" || bf.AccountNumber == "" {
			return n, fmt.Errorf("bank %d: id, bin and account_number are required", i)
		}
		bank := &models.Bank{
			ID:            bf.ID,
			BIN:           bf.BIN,
			AccountNumber: bf.AccountNumber,
			OwnerName:     bf.OwnerName,
			DisplayName:   bf.DisplayName,
			Active:        !bf.Inactive,
		}
		if err := b.UpsertBank(ctx, bank); err != nil {
			return n, fmt.Errorf("upsert bank %s: %w", bank.ID, err)
		}
		n++
	}
	for i, sf := range f.Staff {
		s, err := sf.model(hasher)
		if err != nil {
			return n, fmt.Errorf("staff %d: %w", i, err)
		}
		if err := b.UpsertStaff(ctx, s); err != nil {
			return n, fmt.Errorf("upsert staff %s: %w", s.Username, err)
		}
		n++
	}
	for _, bl := range f.Blacklist {
		if err := b.AddBlacklist(ctx, bl.BankCode, bl.AccountNumber); err != nil {
			return n, fmt.Errorf("blacklist %s/%s: %w", bl.BankCode, bl.AccountNumber, err)
		}
		n++
	}
	return n, nil
}

func (mf MerchantFixture) model(hasher SecretHasher) (*models.Merchant, error) {
	if mf.PublicID == "" || mf.APIKey == "" {
		return nil, fmt.Errorf("public_id and api_key are required")
	}
	keyHash, err := hasher.Hash(mf.APIKey)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	m := &models.Merchant{
		ID:                 mf.ID,
		PublicID:           mf.PublicID,
		Name:               mf.Name,
		APIKeyHash:         keyHash,
		WebhookKey:         mf.WebhookKey,
		Active:             !mf.Inactive,
		DepositIPs:         mf.DepositIPs,
		WithdrawIPs:        mf.WithdrawIPs,
		EnforceIPWhitelist: mf.EnforceIPs,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.WebhookKey == "" {
		m.WebhookKey = mf.APIKey
	}

	amounts := []struct {
		field string
		raw   string
		dst   *int64
	}{
		{"balance", mf.Balance, &m.Balance},
		{"min_deposit", mf.MinDeposit, &m.MinDepositAmount},
		{"max_deposit", mf.MaxDeposit, &m.MaxDepositAmount},
		{"min_withdraw", mf.MinWithdraw, &m.MinWithdrawAmount},
		{"max_withdraw", mf.MaxWithdraw, &m.MaxWithdrawAmount},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.field, err)
		}
		*a.dst = v
	}
	m.AvailableBalance = m.Balance
	return m, nil
}

func (sf StaffFixture) model(hasher SecretHasher) (*models.Staff, error) {
	if sf.Username == "" || sf.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	role := sf.Role
	if role == "" {
		role = domain.RoleStaff
	}
	if role != domain.RoleStaff && role != domain.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := hasher.Hash(sf.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	s := &models.Staff{
		ID:           sf.ID,
		Username:     sf.Username,
		PasswordHash: hash,
		Role:         role,
		Ready:        sf.Ready,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s, nil
}

// parseAmount accepts whole VND amounts with optional thousands separators.
// Empty means zero.
func parseAmount(raw string) (int64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, fmt.Errorf("amount %q must be a non-negative whole number", raw)
	}
	return d.IntPart(), nil
}
