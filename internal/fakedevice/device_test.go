package fakedevice

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func exchange(t *testing.T, d *Device, cmd string) []string {
	t.Helper()
	if _, err := d.Write([]byte(cmd)); err != nil {
		t.Fatalf("Write(%q) unexpected error: %v", cmd, err)
	}
	var frames []string
	buf := make([]byte, 256)
	for {
		n, err := d.Read(buf)
		if err == io.EOF {
			return frames
		}
		frames = append(frames, string(buf[:n]))
	}
}

func TestGetVar(t *testing.T) {
	d := New()
	d.AddSlottedPartition("boot", 8192, false)
	d.AddPartition("system_a", 0, true)

	tests := []struct {
		cmd  string
		want string
	}{
		{"getvar:product", "OKAYfake"},
		{"getvar:has-slot:boot", "OKAYyes"},
		{"getvar:has-slot:userdata", "OKAYno"},
		{"getvar:partition-size:boot_a", "OKAY0x2000"},
		{"getvar:is-logical:system_a", "OKAYyes"},
		{"getvar:current-slot", "OKAYa"},
		{"getvar:is-userspace", "OKAYno"},
		{"getvar:nonsense", "FAILGetVar Variable Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			frames := exchange(t, d, tt.cmd)
			if len(frames) != 1 || frames[0] != tt.want {
				t.Errorf("frames = %q, want [%q]", frames, tt.want)
			}
		})
	}
}

func TestDownloadAndFlash(t *testing.T) {
	d := New()
	d.AddPartition("misc", 16, false)

	if frames := exchange(t, d, "download:00000004"); len(frames) != 1 || frames[0] != "DATA00000004" {
		t.Fatalf("download frames = %q", frames)
	}
	if _, err := d.Write([]byte("abcd")); err != nil {
		t.Fatalf("payload write: %v", err)
	}
	if frames := exchange(t, d, "flash:misc"); len(frames) != 2 || frames[0] != "OKAY" || frames[1] != "OKAY" {
		t.Fatalf("flash frames = %q", frames)
	}
	if got := d.Content("misc"); !bytes.HasPrefix(got, []byte("abcd")) {
		t.Errorf("misc = %q", got)
	}
}

func TestDownloadTooLarge(t *testing.T) {
	d := New()
	d.MaxDownload = 16
	frames := exchange(t, d, "download:00000020")
	if len(frames) != 1 || !strings.HasPrefix(frames[0], "FAIL") {
		t.Errorf("frames = %q, want FAIL", frames)
	}
}

func TestLogicalCommandsNeedUserspace(t *testing.T) {
	d := New()
	d.AddPartition("product_a", 0, true)

	if frames := exchange(t, d, "resize-logical-partition:product_a:4096"); frames[0] != "FAILcommand requires fastbootd" {
		t.Errorf("bootloader resize frames = %q", frames)
	}

	exchange(t, d, "reboot-fastboot")
	if !d.Userspace {
		t.Fatal("reboot-fastboot did not enter fastbootd")
	}
	if frames := exchange(t, d, "resize-logical-partition:product_a:4096"); frames[0] != "OKAY" {
		t.Errorf("fastbootd resize frames = %q", frames)
	}
	if n := len(d.Content("product_a")); n != 4096 {
		t.Errorf("product_a size = %d, want 4096", n)
	}
}

func TestFetchRange(t *testing.T) {
	d := New()
	d.AddPartition("misc", 32, false)
	copy(d.Partitions["misc"].Data[8:], "hello")

	frames := exchange(t, d, "fetch:misc:00000008:00000005")
	want := []string{"DATA00000005", "hello", "OKAY"}
	if strings.Join(frames, ",") != strings.Join(want, ",") {
		t.Errorf("frames = %q, want %q", frames, want)
	}
}
