package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/npezzotti/go-linechat/internal/history"
	"github.com/npezzotti/go-linechat/internal/stats"
	"github.com/npezzotti/go-linechat/internal/types"
)

type session struct {
	cs      *ChatServer
	client  *Client
	user    types.UserAccount
	channel string
}

func newSession(cs *ChatServer, c *Client) *session {
	return &session{cs: cs, client: c}
}

// run authenticates the client, replays the default channel and then
// serves input lines until the peer goes away or an error occurs.
func (s *session) run(ctx context.Context) error {
	user, err := s.cs.authenticate(ctx, s.client)
	if err != nil {
		return err
	}

	s.user = user
	s.client.user = user
	s.channel = types.DefaultChannel

	s.cs.addUserClient(s.client)
	defer s.cs.removeUserClient(s.client)

	if err := s.replay(ctx); err != nil {
		return err
	}

	for {
		line, err := s.client.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := s.dispatch(ctx, line); err != nil {
			return err
		}
	}
}

func (s *session) dispatch(ctx context.Context, line []byte) error {
	text := strings.TrimSpace(string(line))
	// blank lines are neither stored nor echoed
	if text == "" {
		return nil
	}

	if bytes.HasPrefix(line, []byte("/")) {
		return s.handleCommand(ctx, text)
	}

	return s.handleChat(ctx, line)
}

func (s *session) handleCommand(ctx context.Context, text string) error {
	cmd := strings.Fields(text)[0]
	arg := strings.TrimSpace(strings.TrimPrefix(text, cmd))

	switch cmd {
	case "/join":
		return s.join(ctx, arg)
	case "/leave":
		return s.leave(ctx)
	case "/whisper":
		return s.whisper(ctx, arg)
	default:
		return s.client.writeString(ctx, unknownCommand(cmd))
	}
}

func (s *session) join(ctx context.Context, name string) error {
	if name == "" {
		return s.client.writeString(ctx, msgJoinUsage)
	}
	if !history.ValidChannelName(name) {
		return s.client.writeString(ctx, invalidChannel(name))
	}

	s.channel = name
	if err := s.client.writeString(ctx, joinedChannel(name)); err != nil {
		return err
	}

	if s.cs.opts.ReplayOnJoin {
		return s.replay(ctx)
	}
	return nil
}

func (s *session) leave(ctx context.Context) error {
	if s.channel == types.DefaultChannel {
		return s.client.writeString(ctx, msgCannotLeaveDefault)
	}

	left := s.channel
	s.channel = types.DefaultChannel
	return s.client.writeString(ctx, leftChannel(left))
}

func (s *session) whisper(ctx context.Context, arg string) error {
	target, text, _ := strings.Cut(arg, " ")
	text = strings.TrimSpace(text)
	if target == "" || text == "" {
		return s.client.writeString(ctx, msgWhisperUsage)
	}

	msg := types.NewMessage(s.cs.history.Now(), s.user.Username, []byte(text+"\n"))
	line, err := history.Frame(whisperFrame, msg)
	if err != nil {
		return err
	}

	if n := s.cs.deliverToUser(target, line); n == 0 {
		return s.client.writeString(ctx, userNotOnline(target))
	}

	s.cs.stats.Incr(stats.WhispersSent)
	return s.client.writeString(ctx, whisperSent(target))
}

// handleChat persists line to the current channel and echoes it back.
func (s *session) handleChat(ctx context.Context, line []byte) error {
	msg := types.NewMessage(s.cs.history.Now(), s.user.Username, line)
	if err := s.cs.history.Persist(ctx, s.channel, msg, s.user.Id); err != nil {
		return err
	}
	s.cs.stats.Incr(stats.MessagesPersisted)

	frame, err := history.Frame(history.ChatFrame, msg)
	if err != nil {
		return err
	}

	return s.client.WriteLine(ctx, frame)
}

// replay sends the current channel's history. A corrupt record aborts
// the replay but not the session.
func (s *session) replay(ctx context.Context) error {
	n, err := s.cs.history.Replay(ctx, s.channel, s.client)
	var serr *history.SerializationError
	if errors.As(err, &serr) {
		s.cs.log.Printf("[%s] replay of %q aborted: %v", s.client.id, s.channel, err)
		return nil
	}
	if err != nil {
		return err
	}

	s.cs.log.Printf("[%s] replayed %d messages from %q", s.client.id, n, s.channel)
	return nil
}
