// Package admin implements the operator console read from the server's
// standard input.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/npezzotti/go-linechat/internal/accounts"
	"golang.org/x/term"
)

const cmdAddUser = "/add_user"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type Console struct {
	in       *bufio.Reader
	fd       int
	terminal bool
	out      io.Writer
	accounts *accounts.Repository
	log      *log.Logger
}

// NewConsole reads commands from in. Passwords are read without echo when
// in is a terminal.
func NewConsole(in io.Reader, out io.Writer, accts *accounts.Repository, logger *log.Logger) *Console {
	c := &Console{
		in:       bufio.NewReader(in),
		out:      out,
		accounts: accts,
		log:      logger,
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.terminal = true
	}

	return c
}

// Run serves commands until the input is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}

		cmd := strings.TrimSpace(line)
		switch cmd {
		case "":
			continue
		case cmdAddUser:
			if err := c.addUser(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				c.printErr("Failed to create user: %v", err)
				c.log.Printf("admin: add user: %v", err)
			}
		default:
			c.printErr("Unrecognized command: %s", cmd)
		}
	}

	return ctx.Err()
}

func (c *Console) addUser(ctx context.Context) error {
	username, err := c.ask("Enter username:")
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		c.printErr("Invalid username")
		return nil
	}

	passwd, err := c.askPassword("Enter password:")
	if err != nil {
		return err
	}

	role, err := c.ask("Enter role:")
	if err != nil {
		return err
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = accounts.DefaultRole
	}

	acct, err := c.accounts.Create(ctx, username, passwd, role)
	if errors.Is(err, accounts.ErrAccountExists) {
		c.printErr("User %s already exists", username)
		return nil
	}
	if err != nil {
		return err
	}

	c.log.Printf("admin: created account %q with role %q", acct.Username, acct.Role)
	c.printOK("User %s created", acct.Username)
	return nil
}

func (c *Console) ask(prompt string) (string, error) {
	fmt.Fprintln(c.out, color.CyanString(prompt))
	return c.readLine()
}

func (c *Console) askPassword(prompt string) (string, error) {
	if !c.terminal {
		line, err := c.ask(prompt)
		return strings.TrimRight(line, "\r\n"), err
	}

	fmt.Fprintln(c.out, color.CyanString(prompt))
	passwd, err := readPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return string(passwd), nil
}

// readLine returns the next line. A final line without a newline is
// returned before io.EOF.
func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *Console) printOK(format string, args ...any) {
	fmt.Fprintln(c.out, color.GreenString(format, args...))
}

func (c *Console) printErr(format string, args ...any) {
	fmt.Fprintln(c.out, color.RedString(format, args...))
}
