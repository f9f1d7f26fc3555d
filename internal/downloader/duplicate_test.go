package downloader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    DuplicatePolicy
		wantErr bool
	}{
		{input: "", want: DuplicatePolicyOverwrite},
		{input: "overwrite", want: DuplicatePolicyOverwrite},
		{input: " Skip ", want: DuplicatePolicySkip},
		{input: "rename", want: DuplicatePolicyRename},
		{input: "prompt", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDuplicatePolicy(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDuplicatePolicy(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDuplicatePolicy(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDuplicatePolicy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestOutputSetFreePath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.mp4")
	for _, policy := range []DuplicatePolicy{DuplicatePolicyOverwrite, DuplicatePolicySkip, DuplicatePolicyRename} {
		path, skip, err := NewOutputSet().Resolve(out, policy)
		if err != nil || skip || path != out {
			t.Fatalf("%s: got %q skip=%v err=%v", policy, path, skip, err)
		}
	}
}

func TestOutputSetExistingFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a.mp4")
	if err := os.WriteFile(out, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if path, skip, _ := NewOutputSet().Resolve(out, DuplicatePolicyOverwrite); skip || path != out {
		t.Fatalf("overwrite: got %q skip=%v", path, skip)
	}
	if _, skip, _ := NewOutputSet().Resolve(out, DuplicatePolicySkip); !skip {
		t.Fatal("skip policy must skip an existing output")
	}
	path, skip, err := NewOutputSet().Resolve(out, DuplicatePolicyRename)
	if err != nil || skip || path != filepath.Join(dir, "a (1).mp4") {
		t.Fatalf("rename: got %q skip=%v err=%v", path, skip, err)
	}
}

func TestOutputSetSeesFallbackOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a.mp4")
	if err := os.WriteFile(out+".ts", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, skip, _ := NewOutputSet().Resolve(out, DuplicatePolicySkip); !skip {
		t.Fatal("an existing fallback output counts as existing")
	}
}

func TestOutputSetClaimsWithinRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.mp4")
	set := NewOutputSet()
	if _, _, err := set.Resolve(out, DuplicatePolicyRename); err != nil {
		t.Fatal(err)
	}
	second, _, err := set.Resolve(out, DuplicatePolicyRename)
	if err != nil || second == out {
		t.Fatalf("second claim must be renamed, got %q err=%v", second, err)
	}
	third, _, _ := set.Resolve(out, DuplicatePolicyRename)
	if third == second {
		t.Fatalf("third claim reused %q", third)
	}
	if _, _, err := set.Resolve(out, DuplicatePolicyOverwrite); CategoryOf(err) != CategoryFilesystem {
		t.Fatalf("overwriting a path claimed by another job must fail, got %v", err)
	}
}
