package productinfo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lookupFrom(vars map[string]string) func(string) (string, error) {
	return func(name string) (string, error) {
		v, ok := vars[name]
		if !ok {
			return "", errors.New("not found")
		}
		return v, nil
	}
}

func TestParseAndroidInfo(t *testing.T) {
	input := "# comment\n" +
		"require board=walleye|taimen\n" +
		"\n" +
		"reject variant=eng,userdebug\n" +
		"require-for-product:walleye version-baseband=g8998-*\n" +
		"require-for-variant:global version-bootloader=mw8998-002.0071.00\n" +
		"unknown-directive x=y\n"

	req, err := ParseAndroidInfo(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseAndroidInfo() unexpected error: %v", err)
	}
	if len(req.Rules) != 4 {
		t.Fatalf("rules = %d, want 4", len(req.Rules))
	}

	first := req.Rules[0]
	if first.Name != "board" || len(first.Values) != 2 || first.Values[1] != "taimen" || first.Line != 2 {
		t.Errorf("rule 0 = %+v", first)
	}
	if !req.Rules[1].Reject || req.Rules[1].Values[1] != "userdebug" {
		t.Errorf("rule 1 = %+v", req.Rules[1])
	}
	if req.Rules[2].Product != "walleye" || req.Rules[3].Variant != "global" {
		t.Errorf("conditional rules = %+v, %+v", req.Rules[2], req.Rules[3])
	}
}

func TestParseAndroidInfoErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{name: "no equals", input: "require board\n", line: 1},
		{name: "no values", input: "\nrequire board=\n", line: 2},
		{name: "empty name", input: "reject =x\n", line: 1},
		{name: "missing product", input: "require-for-product: version=1\n", line: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAndroidInfo(strings.NewReader(tt.input))
			var syn *SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("error = %v, want SyntaxError", err)
			}
			if syn.Line != tt.line {
				t.Errorf("line = %d, want %d", syn.Line, tt.line)
			}
		})
	}
}

func TestRequirementsCheck(t *testing.T) {
	info := "require board=walleye|taimen\n" +
		"require version-bootloader=mw8998-*\n" +
		"reject variant=eng\n" +
		"require-for-product:taimen version-baseband=g8998-1\n"

	tests := []struct {
		name     string
		vars     map[string]string
		wantErr  bool
		wantName string
	}{
		{
			name: "satisfied",
			vars: map[string]string{"product": "walleye", "version-bootloader": "mw8998-002", "variant": "global"},
		},
		{
			name:     "wrong board",
			vars:     map[string]string{"product": "sailfish", "version-bootloader": "mw8998-002"},
			wantErr:  true,
			wantName: "board",
		},
		{
			name:     "prefix mismatch",
			vars:     map[string]string{"product": "walleye", "version-bootloader": "tz8998"},
			wantErr:  true,
			wantName: "version-bootloader",
		},
		{
			name:     "rejected variant",
			vars:     map[string]string{"product": "walleye", "version-bootloader": "mw8998-1", "variant": "eng"},
			wantErr:  true,
			wantName: "variant",
		},
		{
			name:     "conditional applies",
			vars:     map[string]string{"product": "taimen", "version-bootloader": "mw8998-1", "version-baseband": "g8998-2"},
			wantErr:  true,
			wantName: "version-baseband",
		},
		{
			name: "missing variable reads empty",
			vars: map[string]string{"product": "taimen", "version-bootloader": "mw8998-1", "version-baseband": "g8998-1"},
		},
	}

	req, err := ParseAndroidInfo(strings.NewReader(info))
	if err != nil {
		t.Fatalf("ParseAndroidInfo() unexpected error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := req.Check(lookupFrom(tt.vars))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Check() unexpected error: %v", err)
				}
				return
			}
			var mm *MismatchError
			if !errors.As(err, &mm) {
				t.Fatalf("error = %v, want MismatchError", err)
			}
			if mm.Rule.Name != tt.wantName {
				t.Errorf("failed rule = %q, want %q", mm.Rule.Name, tt.wantName)
			}
		})
	}
}

func TestCheckQueriesEachVariableOnce(t *testing.T) {
	req, err := ParseAndroidInfo(strings.NewReader("require board=a\nrequire product=a\nreject product=b\n"))
	if err != nil {
		t.Fatalf("ParseAndroidInfo() unexpected error: %v", err)
	}

	calls := 0
	err = req.Check(func(name string) (string, error) {
		calls++
		return "a", nil
	})
	if err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("lookup called %d times, want 1", calls)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "android-info.txt")
	if err := os.WriteFile(path, []byte("require board=walleye\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if len(req.Rules) != 1 {
		t.Errorf("rules = %d, want 1", len(req.Rules))
	}

	if _, err := Parse(filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Parse(missing) error = %v", err)
	}
}

func TestParseFastbootInfo(t *testing.T) {
	input := "version 1\n" +
		"# images\n" +
		"flash boot\n" +
		"flash --apply-vbmeta vbmeta\n" +
		"flash --slot-other system system_other.img\n" +
		"reboot fastboot\n" +
		"update-super\n" +
		"if-wipe erase userdata\n"

	plan, err := ParseFastbootInfo(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseFastbootInfo() unexpected error: %v", err)
	}
	if plan.Version != 1 {
		t.Errorf("Version = %d, want 1", plan.Version)
	}

	want := []Task{
		{Kind: TaskFlash, Partition: "boot", Line: 3},
		{Kind: TaskFlash, Partition: "vbmeta", ApplyVbmeta: true, Line: 4},
		{Kind: TaskFlash, Partition: "system", Image: "system_other.img", SlotOther: true, Line: 5},
		{Kind: TaskReboot, Target: "fastboot", Line: 6},
		{Kind: TaskUpdateSuper, Line: 7},
		{Kind: TaskErase, Partition: "userdata", IfWipe: true, Line: 8},
	}
	if len(plan.Tasks) != len(want) {
		t.Fatalf("tasks = %d, want %d", len(plan.Tasks), len(want))
	}
	for i := range want {
		if plan.Tasks[i] != want[i] {
			t.Errorf("task %d = %+v, want %+v", i, plan.Tasks[i], want[i])
		}
	}

	if got := plan.Tasks[0].ImageName(); got != "boot.img" {
		t.Errorf("ImageName() = %q, want boot.img", got)
	}
	if got := plan.Tasks[2].ImageName(); got != "system_other.img" {
		t.Errorf("ImageName() = %q, want system_other.img", got)
	}
}

func TestParseFastbootInfoErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{name: "unknown command", input: "version 1\nformat userdata\n", line: 2},
		{name: "unknown flag", input: "flash --force boot\n", line: 1},
		{name: "flash without partition", input: "flash --slot-other\n", line: 1},
		{name: "reboot without target", input: "reboot\n", line: 1},
		{name: "bare if-wipe", input: "\n\nif-wipe\n", line: 3},
		{name: "bad version", input: "version one\n", line: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFastbootInfo(strings.NewReader(tt.input))
			var syn *SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("error = %v, want SyntaxError", err)
			}
			if syn.Line != tt.line {
				t.Errorf("line = %d, want %d", syn.Line, tt.line)
			}
		})
	}

	if _, err := ParseFastbootInfo(strings.NewReader("version 2\n")); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("version 2 error = %v, want ErrUnsupportedVersion", err)
	}
}
