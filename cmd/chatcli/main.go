package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiredm/internal/chatclient"
	"github.com/vovakirdan/wiredm/internal/log"
)

type options struct {
	server     string
	username   string
	password   string
	register   bool
	noRealtime bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Terminal client for wiredm direct messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flags.StringVarP(&opts.username, "user", "u", "", "username")
	flags.StringVarP(&opts.password, "password", "p", "", "password")
	flags.BoolVar(&opts.register, "register", false, "create the account before logging in")
	flags.BoolVar(&opts.noRealtime, "no-realtime", false, "poll instead of using the WebSocket")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func run(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewWithWriter(opts.logLevel, zerolog.ConsoleWriter{Out: os.Stderr})

	token, err := authenticate(ctx, opts)
	if err != nil {
		return err
	}
	self, err := chatclient.SelfID(token)
	if err != nil {
		return err
	}

	ui := &screen{}
	api := chatclient.NewHTTPClient(opts.server, token)
	ctrl := chatclient.NewController(api, self,
		chatclient.WithLogger(logger),
		chatclient.WithOnChange(ui.render),
	)
	ui.ctrl = ctrl

	var events <-chan chatclient.Event
	if !opts.noRealtime {
		rt, err := chatclient.DialRealtime(ctx, opts.server, token, self, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("realtime unavailable, polling instead")
		} else {
			defer rt.Close()
			events = rt.Events()
		}
	}

	if _, err := ctrl.ListPeers(ctx); err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	fmt.Printf("Logged in as %s (id %d). Commands: /peers /open <user> /close /unread /quit\n", opts.username, self)
	ui.printPeers()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := ctrl.Run(runCtx, events); err != nil {
			logger.Error().Err(err).Msg("controller stopped")
		}
	}()

	return ui.readCommands(runCtx)
}

func authenticate(ctx context.Context, opts *options) (string, error) {
	if opts.register {
		token, err := chatclient.Register(ctx, opts.server, opts.username, "", opts.password)
		if err == nil {
			return token, nil
		}
		var apiErr *chatclient.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 409 {
			return "", fmt.Errorf("register: %w", err)
		}
	}
	token, err := chatclient.Login(ctx, opts.server, opts.username, opts.password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return token, nil
}

// screen prints controller state changes as plain lines.
type screen struct {
	ctrl *chatclient.Controller

	mu         sync.Mutex
	shownPeer  int64
	shownCount int
	shownTotal int
}

func (s *screen) render() {
	if s.ctrl == nil {
		return
	}
	st := s.ctrl.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Active != s.shownPeer {
		s.shownPeer = st.Active
		s.shownCount = 0
	}
	if st.Active != chatclient.NoPeerSelected && len(st.Messages) > s.shownCount {
		for _, m := range st.Messages[s.shownCount:] {
			who := peerName(st.Peers, m.SenderID)
			if m.SenderID == st.Self {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), who, m.Content)
		}
		s.shownCount = len(st.Messages)
	}
	if st.TotalUnread != s.shownTotal {
		s.shownTotal = st.TotalUnread
		if st.TotalUnread > 0 {
			fmt.Printf("(%d unread: %s)\n", st.TotalUnread, badgeLine(st))
		}
	}
	if st.SendError != nil {
		fmt.Printf("! send failed: %v\n", st.SendError)
	}
}

func (s *screen) printPeers() {
	st := s.ctrl.Snapshot()
	for _, p := range st.Peers {
		badge := ""
		if n := st.Badges[p.ID]; n > 0 {
			badge = fmt.Sprintf(" (%d)", n)
		}
		fmt.Printf("  %s%s\n", p.Username, badge)
	}
}

func (s *screen) readCommands(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *screen) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "/quit", "/exit":
		return true
	case "/peers":
		s.printPeers()
	case "/unread":
		if err := s.ctrl.RefreshUnreadSummary(ctx); err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		s.printPeers()
	case "/close":
		s.ctrl.CloseConversation()
	case "/open":
		peer, ok := s.lookup(strings.TrimSpace(arg))
		if !ok {
			fmt.Printf("! unknown peer %q\n", arg)
			return false
		}
		fmt.Printf("--- conversation with %s ---\n", peer.Username)
		if err := s.ctrl.OpenConversation(ctx, peer.ID); err != nil {
			fmt.Printf("! %v\n", err)
		}
	default:
		st := s.ctrl.Snapshot()
		if st.Active == chatclient.NoPeerSelected {
			fmt.Println("! open a conversation first: /open <user>")
			return false
		}
		// Errors are rendered from the controller state.
		_, _ = s.ctrl.SendMessage(ctx, st.Active, line)
	}
	return false
}

func (s *screen) lookup(arg string) (chatclient.Peer, bool) {
	peers := s.ctrl.Snapshot().Peers
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return lo.Find(peers, func(p chatclient.Peer) bool { return p.ID == id })
	}
	return lo.Find(peers, func(p chatclient.Peer) bool { return strings.EqualFold(p.Username, arg) })
}

func peerName(peers []chatclient.Peer, id int64) string {
	if p, ok := lo.Find(peers, func(p chatclient.Peer) bool { return p.ID == id }); ok {
		return p.Username
	}
	return strconv.FormatInt(id, 10)
}

func badgeLine(st chatclient.State) string {
	parts := lo.MapToSlice(st.Badges, func(id int64, n int) string {
		return fmt.Sprintf("%s=%d", peerName(st.Peers, id), n)
	})
	return strings.Join(parts, " ")
}
