package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/config"
	"github.com/localbiz/directory-analytics/internal/credential"
	"github.com/localbiz/directory-analytics/internal/session"
	"github.com/localbiz/directory-analytics/internal/tracker"
	"github.com/localbiz/directory-analytics/pkg/logger"
	"github.com/localbiz/directory-analytics/pkg/tracing"
)

type app struct {
	cfg     *config.Config
	log     *logger.Logger
	session *session.Session
	sink    *tracker.HTTPSink
	tracker *tracker.Tracker

	flushTimeout time.Duration
	shutdown     func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}

	var userID string

	cmd := &cobra.Command{
		Use:           "trackctl",
		Short:         "Emit business directory analytics events",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), userID)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfg.APIURL, "api-url", a.cfg.APIURL, "analytics API base URL")
	flags.StringVar(&a.cfg.SessionFile, "session-file", a.cfg.SessionFile, "file holding the session scope (empty: in-memory)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level")
	flags.DurationVar(&a.cfg.TrackerTimeout, "timeout", a.cfg.TrackerTimeout, "per-submission timeout")
	flags.DurationVar(&a.flushTimeout, "wait", 15*time.Second, "how long to wait for in-flight submissions before exiting")
	flags.StringVar(&userID, "user", "", "sign in as this user id")

	cmd.AddCommand(
		newPageViewCmd(a),
		newContactCmd(a),
		newMapPinCmd(a),
		newFavoriteCmd(a),
		newShareCmd(a),
		newImpressionsCmd(a),
		newSessionCmd(a),
	)

	return cmd
}

func (a *app) init(ctx context.Context, userID string) error {
	log, err := logger.New(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = log
	logger.SetGlobal(log)

	a.shutdown = func(context.Context) error { return nil }
	if a.cfg.TracingEnabled {
		if ctx == nil {
			ctx = context.Background()
		}
		tp, err := tracing.InitTracer(ctx, "trackctl", a.cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			a.shutdown = func(ctx context.Context) error { return tracing.Shutdown(ctx, tp) }
		}
	}

	var store session.Store = session.NewMemoryStore()
	if a.cfg.SessionFile != "" {
		store = session.NewFileStore(a.cfg.SessionFile)
	}
	a.session = session.New(store)

	var creds credential.Provider = credential.None{}
	if userID != "" {
		issuer := credential.NewJWTIssuer(a.cfg.JWTSecret, a.cfg.JWTExpiration)
		issuer.SignIn(userID)
		creds = issuer
	}

	a.sink = tracker.NewHTTPSink(a.cfg.APIURL,
		tracker.WithCredentials(creds),
		tracker.WithTimeout(a.cfg.TrackerTimeout),
		tracker.WithSinkLogger(log),
	)
	a.tracker = tracker.New(a.session, a.sink, tracker.WithLogger(log))
	return nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout)
	defer cancel()

	if err := a.sink.Flush(ctx); err != nil {
		a.log.Warn("abandoning in-flight submissions", zap.Error(err))
	}
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("failed to shut down tracing", zap.Error(err))
	}
	_ = a.log.Sync()
	return nil
}
