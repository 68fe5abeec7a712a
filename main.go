package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/ini.v1"

	"callbridge/callkit"
)

// signalLifecycleSource maps process signals onto app lifecycle phases:
// SIGTSTP sends the app to the background, SIGCONT brings it back.
func signalLifecycleSource(ctx context.Context) <-chan AppState {
	out := make(chan AppState, 4)
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTSTP, syscall.SIGCONT)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case sig := <-sigs:
				switch sig {
				case syscall.SIGTSTP:
					out <- AppBackground
				case syscall.SIGCONT:
					out <- AppActive
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func main() {
	cfg, err := ini.Load("settings.ini")
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	if err := initLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	defer closeLogging()
	coreLog.Info("settings loaded")

	metrics := NewMetrics()
	metrics.Serve(settings.MetricsListen())

	creds := NewIniCredentialStore(settings.CredentialsFile())
	push := NewFilePushStore(settings.PendingActionFile(), settings.DeviceTokenFile())

	var bridge TelephonyBridge
	if settings.TelephonyEnabled() {
		bridge = NewCallKitBridge(callkit.NewService(), telephonyLog)
	}

	factory := func(c SignalingConfig) (SignalingClient, error) {
		return NewSIPSignalingClient(c, settings, sipLog), nil
	}

	session := NewSessionManager(factory, creds, push, metrics, coreLog)
	telephony := NewTelephonyUICoordinator(bridge, session, settings.ConnectReportDelay(), metrics, telephonyLog)
	registry := NewCallRegistry(session, telephony, metrics, coreLog)
	lifecycle := NewAppLifecycleCoordinator(session, registry, telephony, push, settings.BackgroundGrace(), coreLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(session, registry, telephony, lifecycle, bridge, signalLifecycleSource(ctx), coreLog)

	// reconnect from the last successful login, if any
	if err := session.ReconnectFromStored(ctx); err != nil {
		coreLog.Infof("no stored session to restore: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		coreLog.Fatalf("app loop failed: %v", err)
	}

	session.Dispose(context.Background())
	coreLog.Info("performing a graceful shutdown...")
	time.Sleep(time.Second)
}
