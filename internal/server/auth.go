package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-linechat/internal/accounts"
	"github.com/npezzotti/go-linechat/internal/stats"
	"github.com/npezzotti/go-linechat/internal/types"
)

// authenticate runs the login/registration dialogue on c. Every failure
// has already been reported to the client when it returns.
func (cs *ChatServer) authenticate(ctx context.Context, c *Client) (types.UserAccount, error) {
	line, err := c.prompt(ctx, promptUsername)
	if err != nil {
		return types.UserAccount{}, err
	}

	username := strings.TrimSpace(line)
	if username == "" {
		return types.UserAccount{}, c.fail(ctx, msgInvalidUsername, ErrInvalidUsername)
	}

	acct, err := cs.accounts.Get(ctx, username)
	if errors.Is(err, accounts.ErrNotFound) {
		return cs.register(ctx, c, username)
	}
	if err != nil {
		return types.UserAccount{}, err
	}

	return cs.login(ctx, c, acct)
}

func (cs *ChatServer) login(ctx context.Context, c *Client, acct types.UserAccount) (types.UserAccount, error) {
	passwd, err := c.prompt(ctx, promptPassword)
	if err != nil {
		return types.UserAccount{}, err
	}

	if !accounts.VerifyPassword(acct, trimEOL(passwd)) {
		cs.stats.Incr(stats.AuthFailures)
		return types.UserAccount{}, c.fail(ctx, msgInvalidPassword, ErrAuthFailed)
	}

	if err := c.writeString(ctx, msgAuthSuccess); err != nil {
		return types.UserAccount{}, err
	}

	return acct, nil
}

func (cs *ChatServer) register(ctx context.Context, c *Client, username string) (types.UserAccount, error) {
	answer, err := c.prompt(ctx, promptRegister)
	if err != nil {
		return types.UserAccount{}, err
	}

	switch strings.TrimSpace(answer) {
	case "Y", "y":
	case "N", "n":
		return types.UserAccount{}, c.fail(ctx, msgRegistrationCancelled, ErrAuthCancelled)
	default:
		return types.UserAccount{}, c.fail(ctx, msgInvalidResponse, ErrAuthInvalidResponse)
	}

	passwd, err := c.prompt(ctx, promptNewPassword)
	if err != nil {
		return types.UserAccount{}, err
	}

	acct, err := cs.accounts.Create(ctx, username, trimEOL(passwd), accounts.DefaultRole)
	if errors.Is(err, accounts.ErrAccountExists) {
		return types.UserAccount{}, c.fail(ctx, msgUsernameTaken, err)
	}
	if err != nil {
		return types.UserAccount{}, err
	}

	cs.stats.Incr(stats.AccountsCreated)
	cs.log.Printf("[%s] registered account %q", c.id, acct.Username)

	if err := c.writeString(ctx, msgAccountCreated); err != nil {
		return types.UserAccount{}, err
	}

	return acct, nil
}

// prompt sends text and reads the reply line.
func (c *Client) prompt(ctx context.Context, text string) (string, error) {
	if err := c.writeString(ctx, text); err != nil {
		return "", err
	}

	line, err := c.ReadLine()
	if err != nil {
		return "", err
	}

	return string(line), nil
}

// fail reports notice to the client and returns cause, unless the notice
// itself could not be written.
func (c *Client) fail(ctx context.Context, notice string, cause error) error {
	if err := c.writeString(ctx, notice); err != nil {
		return err
	}
	return cause
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}
