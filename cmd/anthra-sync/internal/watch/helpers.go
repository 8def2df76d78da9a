package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/TernFolbaek/anthra-sync/cmd/anthra-sync/internal"
	"github.com/TernFolbaek/anthra-sync/pkg/actions"
	"github.com/TernFolbaek/anthra-sync/pkg/auth"
	"github.com/TernFolbaek/anthra-sync/pkg/bus"
	"github.com/TernFolbaek/anthra-sync/pkg/config"
	"github.com/TernFolbaek/anthra-sync/pkg/conversation"
	"github.com/TernFolbaek/anthra-sync/pkg/history"
	"github.com/TernFolbaek/anthra-sync/pkg/live"
	"github.com/TernFolbaek/anthra-sync/pkg/logger"
	"github.com/TernFolbaek/anthra-sync/pkg/message"
	"github.com/TernFolbaek/anthra-sync/pkg/resync"
	"github.com/TernFolbaek/anthra-sync/pkg/scroll"
	"github.com/TernFolbaek/anthra-sync/pkg/store"
	"github.com/TernFolbaek/anthra-sync/pkg/utils"
)

// windowSize is how many messages the terminal view shows at once.
const windowSize = 20

func watchCmd(debug bool, selfUser string) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	// Keep log lines out of the interactive prompt.
	logPath := filepath.Join(config.ConfigDir(), "watch.log")
	if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		logger.SetOutput(f)
		defer f.Close()
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	cred, err := auth.LoadCredential(config.ConfigDir())
	if err != nil {
		return err
	}
	ts := cred.TokenSource()
	if selfUser == "" {
		selfUser = cred.UserID
	}

	apiTimeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second

	fetcher, err := history.NewFetcher(cfg.API.BaseURL, ts, apiTimeout)
	if err != nil {
		return err
	}
	acts, err := actions.NewClient(cfg.API.BaseURL, ts, apiTimeout)
	if err != nil {
		return err
	}

	eb := bus.NewEventBus()
	channel := live.NewChannel(live.Config{
		URL:              cfg.Live.URL,
		HandshakeTimeout: time.Duration(cfg.Live.HandshakeTimeoutSeconds) * time.Second,
		ReconnectInitial: time.Duration(cfg.Live.ReconnectInitialMillis) * time.Millisecond,
		ReconnectMax:     time.Duration(cfg.Live.ReconnectMaxSeconds) * time.Second,
	}, ts, eb)

	st := store.NewMessageStore()
	view := &replViewport{extent: st.Len}
	anchor := scroll.NewAnchor(view)
	ctrl := conversation.NewController(st, fetcher, channel, anchor, acts, cfg.History.PageSize)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := channel.Start(ctx); err != nil {
		// History stays functional without live delivery; say so and go on.
		fmt.Printf("⚠ live channel unavailable (%v), showing history only\n", err)
	}
	defer channel.Stop(context.Background())
	defer eb.Close()

	go ctrl.Run(ctx, eb)

	poller := resync.NewService(cfg.Resync.Schedule, cfg.Resync.Enabled)
	poller.SetDegradedCheck(func() bool { return channel.State() != live.StateConnected })
	poller.SetRefreshFunc(ctrl.Refresh)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	fmt.Println("Commands: /open <user>  /group <id>  /older  /accept|/decline|/connect|/skip <msg-id>  /quit")
	repl(ctx, ctrl, view, selfUser)
	return nil
}

func repl(ctx context.Context, ctrl *conversation.Controller, view *replViewport, selfUser string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "anthra> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".anthra_sync_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			render(ctrl, view)
			continue
		}
		if input == "/quit" || input == "exit" {
			return
		}

		if err := dispatch(ctx, ctrl, input, selfUser); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		render(ctrl, view)
	}
}

func dispatch(ctx context.Context, ctrl *conversation.Controller, input, selfUser string) error {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/open":
		if selfUser == "" {
			return errors.New("set your user id with --user (or store it at login) to open direct conversations")
		}
		if err := utils.ValidateParticipantID(arg); err != nil {
			return err
		}
		return ctrl.SelectConversation(ctx, message.DirectKey(selfUser, arg))
	case "/group":
		if err := utils.ValidateParticipantID(arg); err != nil {
			return err
		}
		return ctrl.SelectConversation(ctx, message.GroupKey(arg))
	case "/older":
		return ctrl.RequestOlderIfAtTop(ctx)
	case "/accept":
		return localAction(ctx, ctrl, arg, message.ActionAccepted)
	case "/decline":
		return localAction(ctx, ctrl, arg, message.ActionDeclined)
	case "/connect":
		return localAction(ctx, ctrl, arg, message.ActionConnected)
	case "/skip":
		return localAction(ctx, ctrl, arg, message.ActionSkipped)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func localAction(ctx context.Context, ctrl *conversation.Controller, arg string, action message.Action) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("message id required: %w", err)
	}
	return ctrl.ApplyLocalAction(ctx, id, action)
}

func render(ctrl *conversation.Controller, view *replViewport) {
	msgs := ctrl.Snapshot()
	flags := ctrl.Flags()

	switch flags.State {
	case conversation.StateIdle:
		fmt.Println("(no conversation selected)")
		return
	case conversation.StateLoading:
		fmt.Println("(loading…)")
		return
	case conversation.StateFailed:
		fmt.Println("(could not load conversation, try /open again)")
		return
	}

	if len(msgs) == 0 {
		fmt.Println("(empty conversation)")
		return
	}

	start := view.offset - windowSize
	if start > len(msgs)-windowSize {
		start = len(msgs) - windowSize
	}
	if start < 0 {
		start = 0
	}
	if flags.Exhausted && start == 0 {
		fmt.Println("── beginning of conversation ──")
	}
	for _, m := range msgs[start:min(start+windowSize, len(msgs))] {
		printMessage(m)
	}
}

func printMessage(m message.Message) {
	ts := m.Timestamp.Local().Format("15:04")
	switch m.Kind {
	case message.KindGroupInvitation, message.KindReferralCard:
		status := "pending"
		if m.State != nil && m.State.Resolved {
			status = string(m.State.Action)
		}
		fmt.Printf("[%s] #%d %s: %s (%s: %s)\n", ts, m.ID, m.SenderID, m.Content, m.Kind, status)
	default:
		fmt.Printf("[%s] #%d %s: %s\n", ts, m.ID, m.SenderID, m.Content)
	}
	for _, a := range m.Attachments {
		fmt.Printf("        📎 %s (%s)\n", a.FileName, a.FileURL)
	}
}

// replViewport maps the scroll abstraction onto the terminal view: extent is
// the live message count, offset the index just past the last visible message.
type replViewport struct {
	extent func() int
	offset int
}

func (v *replViewport) Extent() int          { return v.extent() }
func (v *replViewport) Offset() int          { return v.offset }
func (v *replViewport) SetOffset(offset int) { v.offset = offset }
