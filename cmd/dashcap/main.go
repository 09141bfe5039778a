package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"dashcap/internal/app"
	"dashcap/internal/capture"
	"dashcap/internal/render"
)

func main() {
	var (
		cfgPath   string
		envPath   string
		ids       string
		list      string
		preset    string
		watermark bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file loaded before config")
	flag.StringVar(&ids, "capture", "", "comma-separated dashboard ids to capture once and exit")
	flag.StringVar(&list, "list", "", "dashboard list to capture once and exit")
	flag.StringVar(&preset, "range", "", "time range preset for one-shot captures")
	flag.BoolVar(&watermark, "watermark", true, "stamp one-shot captures")
	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Println("fatal env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if ids != "" || list != "" {
		os.Exit(captureOnce(ctx, a, strings.Split(ids, ","), list, watermark, render.TimeRange{Preset: preset}))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func captureOnce(ctx context.Context, a *app.App, ids []string, list string, wm bool, tr render.TimeRange) int {
	defer a.Stop(context.Background(), app.StopOneShot)

	outs, err := a.CaptureOnce(ctx, ids, list, wm, tr)
	if err != nil {
		fmt.Println("capture:", err)
		return 1
	}
	for _, o := range outs {
		line := fmt.Sprintf("%-24s %-12s %s", o.TargetID, o.Status, o.ArtifactPath)
		if o.Error != "" {
			line += " " + o.Error
		}
		if o.Warning != "" {
			line += " (" + o.Warning + ")"
		}
		fmt.Println(strings.TrimSpace(line))
	}
	c := capture.Summarize(outs)
	fmt.Printf("%d/%d ok\n", c.Success, c.Total)
	if c.Success == 0 {
		return 1
	}
	return 0
}
