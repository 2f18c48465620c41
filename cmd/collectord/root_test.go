package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sipeed/msgcollector/pkg/channels/console"
	"github.com/sipeed/msgcollector/pkg/config"
	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/infrastructure/persistence"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := run(t, "--config", path, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := run(t, "--config", path, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Telegram.Token = "123456789:secret-token"
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	out, err := run(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-token") || !strings.Contains(out, "1234****") {
		t.Errorf("token not masked:\n%s", out)
	}
	if !strings.Contains(out, "command_prefix: '!'") && !strings.Contains(out, `command_prefix: "!"`) {
		t.Errorf("missing command prefix:\n%s", out)
	}
}

func TestPresetsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Collector.PresetDirs = []string{dir}
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	out, err := run(t, "--config", path, "presets")
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	for _, name := range []string{"next", "vote", "poll"} {
		if !strings.Contains(out, name) {
			t.Errorf("presets output missing %q:\n%s", name, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(dir, "history.db")
	cfg.Collector.PresetDirs = nil
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	repo, err := persistence.OpenCollectionRepository(cfg.Storage.DBPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	err = repo.Save(&domain.CollectionRecord{
		ID: "rec-1", Platform: domain.ChannelConsole, ChannelID: "console", TriggerID: "t1",
		Preset: "vote", Reason: "limit", Limit: 2, Timeout: time.Minute,
		MessageIDs: []string{"a", "b"}, StartedAt: now.Add(-time.Second), FinishedAt: now,
	})
	repo.Close()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := run(t, "--config", path, "history", "console")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "rec-1") || !strings.Contains(out, "2/2") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = run(t, "--config", path, "history", "elsewhere")
	if err != nil || !strings.Contains(out, "no collections") {
		t.Errorf("empty history = %q, %v", out, err)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"short":          "****",
		"xoxb-123456789": "xoxb****",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestServeConsoleRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "history.db")
	cfg.Collector.PresetDirs = nil

	var out bytes.Buffer
	source := console.NewSource("host", &out)

	err := serve(context.Background(), cfg, domain.ChannelConsole, source, source, func(ctx context.Context) error {
		source.Post("!collect 2 5s")
		source.Post("alice: one")
		source.Post("bot: ignored")
		source.Post("bob: two")
		return nil
	})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"[console] Collecting up to 2 message(s) for 5s.",
		"Collected 2/2 message(s), limit reached",
		"alice: one",
		"bob: two",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("bot line was collected:\n%s", got)
	}
}

func TestPlatformCommandsRequireCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	tests := map[string]string{
		"feishu":   "feishu app id",
		"dingtalk": "dingtalk client id",
		"qq":       "qq app id",
		"telegram": "telegram token",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, "--config", path, name)
			if err == nil || !strings.Contains(err.Error(), want) {
				t.Errorf("err = %v, want %q", err, want)
			}
		})
	}
}
