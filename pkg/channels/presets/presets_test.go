package presets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sipeed/msgcollector/pkg/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"next", "vote", "poll"} {
		p, ok := r.Get(name)
		if !ok {
			t.Errorf("builtin %q missing", name)
			continue
		}
		if !p.Builtin {
			t.Errorf("%q not marked builtin", name)
		}
	}
	if _, ok := r.Get("VOTE"); !ok {
		t.Error("lookup should be case-insensitive")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "raffle.yaml", `
name: raffle
description: Collect entries
limit: 20
timeout: 90s
filter:
  contains: ["enter", "me"]
  ignore_case: true
`)
	writeFile(t, dir, "vote.yml", `
name: vote
limit: 3
timeout: 10s
`)
	writeFile(t, dir, "broken.yaml", `
name: broken
filter:
  regex: "("
`)
	writeFile(t, dir, "negative.yaml", `
name: negative
limit: -2
`)
	writeFile(t, dir, "notes.txt", "ignored")

	r := NewRegistry()
	n, errs := r.Load(dir)
	if n != 2 {
		t.Errorf("loaded %d presets, want 2", n)
	}
	if len(errs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(errs), errs)
	}

	raffle, ok := r.Get("raffle")
	if !ok {
		t.Fatal("raffle not registered")
	}
	if raffle.Timeout != 90*time.Second || raffle.Limit != 20 {
		t.Errorf("raffle options = %+v", raffle.Options())
	}
	if raffle.SourceFile == "" {
		t.Error("SourceFile not set")
	}

	vote, _ := r.Get("vote")
	if vote.Builtin || vote.Limit != 3 {
		t.Errorf("file preset should replace builtin vote: %+v", vote)
	}

	if r.Count() != 4 {
		t.Errorf("Count = %d, want 4 (3 builtins, vote replaced, raffle added)", r.Count())
	}
	list := r.List()
	if list[0].Name != "next" || list[len(list)-1].Name != "vote" {
		t.Errorf("List not sorted: first %s, last %s", list[0].Name, list[len(list)-1].Name)
	}
}

func TestLoadDirsSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: a\nlimit: 2\ntimeout: 1s\n")

	r := NewRegistry()
	n, warnings := r.LoadDirs([]string{filepath.Join(dir, "nope"), dir})
	if n != 1 || len(warnings) != 0 {
		t.Errorf("LoadDirs = %d, %v; want 1, none", n, warnings)
	}
}

func TestPresetFilter(t *testing.T) {
	r := NewRegistry()
	vote, _ := r.Get("vote")
	f := vote.Filter()

	tests := []struct {
		content string
		want    bool
	}{
		{"yes", true},
		{" NO ", true},
		{"y", true},
		{"maybe", false},
		{"yes please", false},
	}
	for _, tt := range tests {
		got, err := f(domain.Message{Content: tt.content})
		if err != nil {
			t.Fatalf("filter error: %v", err)
		}
		if got != tt.want {
			t.Errorf("vote filter(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}

	p := &Preset{
		Name:  "combo",
		Limit: 1,
		Match: MatchSpec{Prefix: "!", Contains: []string{"a", "b"}, Authors: []string{"u1"}},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	f = p.Filter()
	if ok, _ := f(domain.Message{Content: "!b", AuthorID: "u1"}); !ok {
		t.Error("combo should match prefix, contains and author")
	}
	if ok, _ := f(domain.Message{Content: "!b", AuthorID: "u2"}); ok {
		t.Error("combo must reject other authors")
	}
	if ok, _ := f(domain.Message{Content: "!c", AuthorID: "u1"}); ok {
		t.Error("combo must reject content without any of contains")
	}

	empty := &Preset{Name: "all"}
	if ok, _ := empty.Filter()(domain.Message{Content: "anything"}); !ok {
		t.Error("preset without filter should match everything")
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "two words"} {
		p := &Preset{Name: name}
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%q) succeeded, want error", name)
		}
	}
}
