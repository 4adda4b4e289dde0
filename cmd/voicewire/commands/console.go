package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/voicewire/voicewire/pkg/audio/device"
	"github.com/voicewire/voicewire/pkg/audio/portaudio"
	"github.com/voicewire/voicewire/pkg/capture"
	"github.com/voicewire/voicewire/pkg/cli"
	"github.com/voicewire/voicewire/pkg/kv"
	"github.com/voicewire/voicewire/pkg/realtime"
	"github.com/voicewire/voicewire/pkg/storage"
	"github.com/voicewire/voicewire/pkg/tape"
	"github.com/voicewire/voicewire/pkg/turn"
	"github.com/voicewire/voicewire/pkg/turnlog"
)

var (
	consoleURL       string
	consoleToken     string
	consoleTransport string
	consoleTape      bool
	consoleNoLog     bool
	consoleDataDir   string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive push-to-talk console",
	Long: `Talk to a relay from the terminal.

The console opens the default microphone and speaker, connects to the
relay, and draws a live frame with the session state, the transcript
tail, and recent log lines. Press space to start recording, space again
to send the take. Speaking while the assistant plays back cuts it off.

Keys:
  space   start recording / send
  + / -   speaker volume
  r       reconnect after a failure
  q       quit

Turns are recorded to the turn log (see 'voicewire turns') unless
--no-log is given. --tape additionally archives the session audio.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVarP(&contextName, "context", "c", "", "context name to use")
	consoleCmd.Flags().StringVar(&consoleURL, "url", "", "relay base URL")
	consoleCmd.Flags().StringVar(&consoleToken, "token", "", "relay bearer token")
	consoleCmd.Flags().StringVar(&consoleTransport, "transport", "", "relay transport (websocket or webrtc)")
	consoleCmd.Flags().BoolVar(&consoleTape, "tape", false, "archive session audio to the tape store")
	consoleCmd.Flags().BoolVar(&consoleNoLog, "no-log", false, "do not record turns to the turn log")
	consoleCmd.Flags().StringVar(&consoleDataDir, "data-dir", "", "override the turn log and tape directory")

	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg := loadServiceConfig(contextName)

	// Apply command-line overrides
	if consoleURL != "" {
		cfg.URL = consoleURL
	}
	if consoleToken != "" {
		cfg.Token = consoleToken
	}
	if consoleTransport != "" {
		cfg.Transport = consoleTransport
	}
	if consoleDataDir != "" {
		cfg.DataDir = consoleDataDir
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("console requires an interactive terminal")
	}

	client := realtime.NewClient(
		realtime.WithBaseURL(cfg.URL),
		realtime.WithToken(cfg.Token),
	)
	var dialer turn.Dialer
	switch cfg.Transport {
	case "websocket", "ws":
		dialer = turn.WebSocketDialer(client)
	case "webrtc", "rtc":
		dialer = turn.WebRTCDialer(client)
	default:
		return fmt.Errorf("unknown transport %q (want websocket or webrtc)", cfg.Transport)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The frame owns the terminal from here on, so logs go to a ring
	// buffer rendered inside it instead of stderr.
	logWriter := cli.NewLogWriter(200)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	turnsDir, tapesDir, err := dataDirs(cfg.DataDir)
	if err != nil {
		return err
	}

	var tlog *turnlog.Log
	if !consoleNoLog {
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: turnsDir})
		if err != nil {
			return fmt.Errorf("open turn log: %w", err)
		}
		defer store.Close()
		tlog = turnlog.New(store, turnLogPrefix)
	}

	var rec *tape.Recorder
	if consoleTape {
		local, err := storage.NewLocal(tapesDir)
		if err != nil {
			return fmt.Errorf("open tape store: %w", err)
		}
		rec = tape.NewRecorder(local, tape.WithLogger(logger))
	}

	mic, err := device.NewMic(device.WithMicLogger(logger))
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	speaker, err := device.NewSpeaker(device.WithSpeakerLogger(logger))
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer portaudio.Terminate()
	defer speaker.Close()

	st := &consoleState{}
	repaint := make(chan struct{}, 1)
	nudge := func() {
		select {
		case repaint <- struct{}{}:
		default:
		}
	}

	opts := []turn.Option{
		turn.WithLogger(logger),
		turn.OnState(func(ev turn.ConnStateEvent) {
			st.setConn(ev)
			nudge()
		}),
		turn.OnTranscript(func(turnID, text string, final bool) {
			st.applyTranscript(turnID, text, final)
			nudge()
		}),
		turn.OnTurnEvent(func(ev turn.TurnEvent) {
			st.applyTurnEvent(ev)
			nudge()
		}),
		turn.OnToolCall(consoleTools(logger)),
	}
	if tlog != nil {
		opts = append(opts, turn.WithTurnLog(tlog))
	}
	if rec != nil {
		opts = append(opts, turn.WithTape(rec))
	}

	co := turn.New(dialer, mic, speaker, opts...)
	defer co.Close()

	// Probe the mic before taking over the screen so an OS permission
	// prompt is not hidden behind the frame.
	cli.PrintInfo("Checking microphone access...")
	if err := co.RequestPermission(ctx); err != nil {
		return fmt.Errorf("microphone permission: %w", err)
	}

	go func() {
		if err := co.Connect(ctx); err != nil {
			logger.Error("connect failed", "error", err)
		}
		nudge()
	}()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	// Alternate screen, hidden cursor. Restored on exit.
	fmt.Print("\x1b[?1049h\x1b[?25l")
	defer fmt.Print("\x1b[?25h\x1b[?1049l")

	keys := make(chan byte, 8)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n > 0 {
				keys <- buf[0]
			}
		}
	}()

	frame := cli.Frame{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "voicewire",
		Help:   "space talk/send   +/- volume   r reconnect   q quit",
		Sections: []cli.Section{
			{Label: "Session", Weight: 1, Content: st.sessionLines(co, speaker, cfg)},
			{Label: "Transcript", Weight: 2, Content: st.transcriptLines},
			{Label: "Log", Weight: 1, Content: logWriter.Lines},
		},
	}

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		frame.Status = co.State().String()
		paintFrame(frame)

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		case <-repaint:
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			switch k {
			case ' ':
				toggleCapture(ctx, co, logger)
			case '+', '=':
				speaker.SetGain(speaker.Gain() + 0.1)
			case '-', '_':
				if g := speaker.Gain() - 0.1; g > 0 {
					speaker.SetGain(g)
				} else {
					speaker.SetGain(0)
				}
			case 'r', 'R':
				if co.State() == turn.ConnFailed {
					go func() {
						if err := co.Connect(ctx); err != nil {
							logger.Error("reconnect failed", "error", err)
						}
						nudge()
					}()
				}
			case 'q', 'Q', 3: // Ctrl-C arrives as a byte in raw mode
				return nil
			}
		}
	}
}

// toggleCapture flips between recording and sending. A too-short take is
// dropped by the pipeline; surface that quietly and move on.
func toggleCapture(ctx context.Context, co *turn.Coordinator, logger *slog.Logger) {
	if co.Capturing() {
		if err := co.EndCapture(ctx); err != nil {
			if errors.Is(err, capture.ErrTooShort) {
				logger.Info("take too short, not sent")
			} else {
				logger.Warn("end capture", "error", err)
			}
		}
		return
	}
	if err := co.BeginCapture(ctx); err != nil {
		logger.Warn("begin capture", "error", err)
	}
}

// paintFrame redraws the whole frame in place. The terminal is in raw
// mode, so newlines need an explicit carriage return.
func paintFrame(f cli.Frame) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		w, h = 80, 24
	}
	out := f.Render(w, h)
	out = strings.ReplaceAll(out, "\n", "\r\n")
	fmt.Print("\x1b[H" + out + "\x1b[J")
}

// transcriptTail caps how many turns the transcript section keeps.
const transcriptTail = 32

type transcriptEntry struct {
	turnID string
	text   string
	final  bool
}

// consoleState holds what the frame renders. Event callbacks write it,
// the render loop reads it.
type consoleState struct {
	mu        sync.Mutex
	conn      turn.ConnState
	connCause error
	lastTurn  string
	entries   []transcriptEntry
}

func (s *consoleState) setConn(ev turn.ConnStateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = ev.State
	s.connCause = ev.Cause
}

func (s *consoleState) applyTranscript(turnID, text string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deltas append to the turn's entry; a final transcript replaces it.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].turnID != turnID {
			continue
		}
		if final {
			s.entries[i].text = text
			s.entries[i].final = true
		} else {
			s.entries[i].text += text
		}
		return
	}
	s.entries = append(s.entries, transcriptEntry{turnID: turnID, text: text, final: final})
	if len(s.entries) > transcriptTail {
		s.entries = s.entries[len(s.entries)-transcriptTail:]
	}
}

func (s *consoleState) applyTurnEvent(ev turn.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTurn = string(ev.Phase)
	if ev.Err != nil {
		s.lastTurn += ": " + ev.Err.Error()
	}
}

func (s *consoleState) sessionLines(co *turn.Coordinator, spk *device.Speaker, cfg *ServiceConfig) func() []string {
	return func() []string {
		s.mu.Lock()
		conn, cause, last := s.conn, s.connCause, s.lastTurn
		s.mu.Unlock()

		link := conn.String()
		if conn == turn.ConnFailed && cause != nil {
			link += "  (" + cause.Error() + ")"
		}

		micLine := "mic       idle"
		if co.Capturing() {
			micLine = "mic       ● recording"
		}

		turnLine := "turn      -"
		if id := co.ActiveTurn(); id != "" {
			turnLine = "turn      " + id
		} else if co.TurnInFlight() {
			turnLine = "turn      (requested)"
		}
		if last != "" {
			turnLine += "   last: " + last
		}

		lines := []string{
			fmt.Sprintf("relay     %s  (%s)", cfg.URL, cfg.Transport),
			"link      " + link,
			micLine,
			fmt.Sprintf("speaker   %s  gain %.1f", co.PlaybackState(), spk.Gain()),
			turnLine,
		}
		if sid := co.SessionID(); sid != "" {
			lines = append(lines, "session   "+sid)
		}
		return lines
	}
}

func (s *consoleState) transcriptLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return []string{"(no turns yet, press space and speak)"}
	}
	lines := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		marker := "…"
		if e.final {
			marker = "•"
		}
		lines = append(lines, marker+" "+e.text)
	}
	return lines
}

// consoleTools answers tool calls the relay routes back to the client.
// Unknown tools get an error object so the model can recover.
func consoleTools(logger *slog.Logger) turn.ToolHandler {
	return func(ctx context.Context, call turn.ToolCall) (string, error) {
		logger.Info("tool call", "name", call.Name, "args", call.RawArguments)
		switch call.Name {
		case "get_time":
			out, _ := json.Marshal(map[string]string{"time": time.Now().Format(time.RFC3339)})
			return string(out), nil
		default:
			out, _ := json.Marshal(map[string]string{"error": "unknown tool: " + call.Name})
			return string(out), nil
		}
	}
}
