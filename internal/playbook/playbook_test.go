package playbook

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFromDirectory_MissingDirUsesDefaults(t *testing.T) {
	pb, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pb.Intents() == 0 {
		t.Fatal("expected built-in intents")
	}
	if !pb.MatchesHandoffPhrase("please let me TALK TO AGENT now") {
		t.Fatal("default handoff phrase not matched")
	}
}

func TestLoadFromDirectory_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	content := `
intents:
  - name: printer_jam
    requiredSlots:
      - name: location
        prompt: Which office is the printer in?
handoffPhrases:
  - operator please
fallbacks:
  classifier: custom classifier fallback
responses:
  no_match: custom no-match
`
	if err := os.WriteFile(filepath.Join(dir, "it.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pb, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	in, ok := pb.Intent("printer_jam")
	if !ok {
		t.Fatal("merged intent missing")
	}
	if len(in.RequiredSlots) != 1 || in.RequiredSlots[0].Name != "location" {
		t.Fatalf("slots not parsed: %+v", in.RequiredSlots)
	}
	if !pb.MatchesHandoffPhrase("Operator PLEASE") {
		t.Fatal("merged handoff phrase not matched")
	}
	if pb.Fallback("classifier") != "custom classifier fallback" {
		t.Fatalf("fallback not overridden: %q", pb.Fallback("classifier"))
	}
	if pb.Response(RespNoMatch) != "custom no-match" {
		t.Fatalf("response not overridden: %q", pb.Response(RespNoMatch))
	}
	// built-in intents survive the merge
	if _, ok := pb.Intent("password_reset"); !ok {
		t.Fatal("built-in intent lost during merge")
	}
}

func TestLoadFromDirectory_BadFileSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("intents: {not: [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	pb, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("bad file should be skipped, got error: %v", err)
	}
	if pb.Intents() == 0 {
		t.Fatal("defaults should survive a bad file")
	}
}

func TestFallback_UnknownDependency(t *testing.T) {
	pb := Defaults()
	if pb.Fallback("unknown_dep") != pb.Response(RespNoMatch) {
		t.Fatal("unknown dependency should fall back to the no-match response")
	}
}
