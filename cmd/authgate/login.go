package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"golang.org/x/term"
)

const loginHelp = `Type a username to check it, then enter the password when asked.
Commands:
  :forgot [username]      request a password reset
  :reset-password TOKEN   set a new password with a reset token
  :logout                 end the session
  :reset                  start the flow over
  :status                 show the current flow and lockout state
  :metrics                print counters in Prometheus format
  :quit                   exit`

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewScanner(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

func (p *prompter) line(prompt string) (string, bool) {
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

// secret reads a password without echo on a terminal.
func (p *prompter) secret(prompt string) (string, bool) {
	if !p.tty {
		return p.line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	raw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func login(ctx context.Context, cfg authgate.Config, opts options, logger *slog.Logger, in io.Reader, out io.Writer) error {
	var cleanup closers
	defer cleanup.run()

	engine, backend, err := buildEngine(ctx, cfg, opts, logger, &cleanup)
	if err != nil {
		return err
	}
	ctrl, err := authgate.NewController(engine, backend)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	exporter := prometheus.NewPrometheusExporter(engine)
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: exporter.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	s := &session{ctrl: ctrl, engine: engine, exporter: exporter, out: out, p: newPrompter(in, out)}
	return s.loop(ctx)
}

type session struct {
	ctrl     *authgate.Controller
	engine   *authgate.Engine
	exporter *prometheus.PrometheusExporter
	out      io.Writer
	p        *prompter
}

func (s *session) loop(ctx context.Context) error {
	fmt.Fprintln(s.out, loginHelp)
	if st := s.engine.State(); st.IsAuthenticated && st.User != nil {
		fmt.Fprintf(s.out, "Restored session for %s (%s)\n", st.User.Username, st.User.Role)
	}

	for ctx.Err() == nil {
		input, ok := s.p.line("> ")
		if !ok {
			return nil
		}
		if input == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(input, " ")
		switch cmd {
		case ":quit", ":q":
			return nil
		case ":help":
			fmt.Fprintln(s.out, loginHelp)
		case ":status":
			s.printStatus()
		case ":metrics":
			fmt.Fprint(s.out, s.exporter.Render())
		case ":reset":
			s.show(s.ctrl.ResetFlow(), nil)
		case ":logout":
			s.show(s.ctrl.Logout(ctx))
		case ":forgot":
			s.show(s.ctrl.ForgotPassword(ctx, strings.TrimSpace(arg)))
		case ":reset-password":
			s.resetPassword(ctx, strings.TrimSpace(arg))
		default:
			s.attempt(ctx, input)
		}
	}
	return nil
}

// attempt checks username and, once its password status is known, submits a password.
func (s *session) attempt(ctx context.Context, username string) {
	f, err := s.ctrl.CheckUser(ctx, username)
	s.show(f, err)
	if err != nil || f.Stage != authgate.StagePasswordStatusKnown {
		return
	}

	creating := !f.PasswordAlreadySet
	prompt := "Password: "
	if creating {
		prompt = "New password: "
	}
	pw, ok := s.p.secret(prompt)
	if !ok {
		return
	}
	f, err = s.ctrl.Submit(ctx, f.Username, pw)
	s.show(f, err)

	if creating && err == nil {
		f, err = s.ctrl.Submit(ctx, f.Username, pw)
		s.show(f, err)
	}
}

func (s *session) resetPassword(ctx context.Context, token string) {
	if token == "" {
		s.show(s.ctrl.ResetPassword(ctx, "", ""))
		return
	}
	pw, ok := s.p.secret("New password: ")
	if !ok {
		return
	}
	s.show(s.ctrl.ResetPassword(ctx, token, pw))
}

func (s *session) show(f authgate.FlowState, err error) {
	if f.Message.Text != "" {
		fmt.Fprintf(s.out, "[%s] %s\n", f.Message.Kind, f.Message.Text)
	} else if err != nil {
		fmt.Fprintf(s.out, "[error] %v\n", err)
	}
	if f.Stage == authgate.StageSuccess && f.Destination != "" {
		fmt.Fprintf(s.out, "-> %s\n", f.Destination)
	}
	if f.ShowForgotPassword {
		fmt.Fprintln(s.out, "Forgot your password? Type :forgot")
	}
}

func (s *session) printStatus() {
	f := s.ctrl.State()
	st := s.engine.State()
	fmt.Fprintf(s.out, "stage=%s username=%q failed_attempts=%d locked=%t\n",
		f.Stage, f.Username, st.FailedAttempts, st.IsLocked)
	if st.IsLocked {
		fmt.Fprintf(s.out, "lockout remaining %s\n", authgate.FormatLockout(s.engine.RemainingLockout(time.Now())))
	}
	if st.IsAuthenticated && st.User != nil {
		fmt.Fprintf(s.out, "signed in as %s (%s) -> %s\n",
			st.User.Username, st.User.Role, s.engine.Config().Flow.DestinationFor(st.User.Role))
	}
}
