// Package accounts stores user accounts in a key/value store keyed by
// username.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/npezzotti/go-linechat/internal/database"
	"github.com/npezzotti/go-linechat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const DefaultRole = "user"

var (
	ErrNotFound      = errors.New("account not found")
	ErrAccountExists = errors.New("account already exists")
)

type Repository struct {
	store database.Store
}

func NewRepository(store database.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Get(ctx context.Context, username string) (types.UserAccount, error) {
	raw, err := r.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.UserAccount{}, ErrNotFound
		}
		return types.UserAccount{}, err
	}

	var acct types.UserAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return types.UserAccount{}, fmt.Errorf("decode account %q: %w", username, err)
	}

	return acct, nil
}

// Create hashes password, assigns a fresh id and stores the account. The
// store insert is atomic, so of two concurrent creations for one username
// exactly one succeeds and the other gets ErrAccountExists.
func (r *Repository) Create(ctx context.Context, username, password, role string) (types.UserAccount, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return types.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}

	acct := types.UserAccount{
		Username:     username,
		Id:           uuid.NewString(),
		PasswordHash: hash,
		Role:         role,
	}

	raw, err := json.Marshal(acct)
	if err != nil {
		return types.UserAccount{}, fmt.Errorf("encode account: %w", err)
	}

	if err := r.store.Insert(ctx, username, raw); err != nil {
		if errors.Is(err, database.ErrKeyExists) {
			return types.UserAccount{}, ErrAccountExists
		}
		return types.UserAccount{}, err
	}

	return acct, nil
}

func (r *Repository) Exists(ctx context.Context, username string) (bool, error) {
	_, err := r.store.Get(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func VerifyPassword(acct types.UserAccount, password string) bool {
	return verifyPassword(acct.PasswordHash, password)
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
