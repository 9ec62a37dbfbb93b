package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gzip "github.com/klauspost/pgzip"

	"github.com/moffa90/go-fastboot/internal/fakedevice"
	"github.com/moffa90/go-fastboot/protocol"
)

type nopCloser struct {
	*fakedevice.Device
}

func (nopCloser) Close() error { return nil }

// useDevice routes every dial to dev for the duration of the test.
func useDevice(t *testing.T, dev *fakedevice.Device) {
	t.Helper()
	saved := dial
	dial = func(ctx context.Context, target string) (io.ReadWriteCloser, error) {
		return nopCloser{dev}, nil
	}
	t.Cleanup(func() { dial = saved })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	t.Logf("stderr:\n%s", stderr.String())
	return stdout.String(), err
}

func TestGetVarCommand(t *testing.T) {
	dev := fakedevice.New()
	useDevice(t, dev)

	out, err := run(t, "-s", "tcp:192.0.2.1", "getvar", "product")
	if err != nil {
		t.Fatalf("getvar failed: %v", err)
	}
	if out != "product: fake\n" {
		t.Errorf("output = %q", out)
	}
}

func TestFlashCommandExpandsCompressedImage(t *testing.T) {
	dev := fakedevice.New()
	dev.AddPartition("misc", 64, false)
	useDevice(t, dev)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "misc.img.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "-s", "tcp:192.0.2.1", "flash", "misc", path); err != nil {
		t.Fatalf("flash failed: %v", err)
	}
	if got := dev.Content("misc"); !bytes.HasPrefix(got, []byte("0123456789abcdef")) {
		t.Errorf("misc = %q", got)
	}
}

func TestRebootBootloaderAlias(t *testing.T) {
	dev := fakedevice.New()
	useDevice(t, dev)

	if _, err := run(t, "-s", "tcp:192.0.2.1", "reboot-bootloader"); err != nil {
		t.Fatalf("reboot-bootloader failed: %v", err)
	}
	cmds := dev.Commands()
	if len(cmds) == 0 || cmds[len(cmds)-1] != "reboot-bootloader" {
		t.Errorf("commands = %q", cmds)
	}
}

func TestMissingDevice(t *testing.T) {
	useDevice(t, fakedevice.New())
	t.Setenv("FASTBOOT_DEVICE", "")
	t.Setenv("ANDROID_SERIAL", "")

	if _, err := run(t, "-s", "", "getvar", "product"); !errors.Is(err, errNoDevice) {
		t.Errorf("error = %v, want errNoDevice", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("output = %q", out)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "4096", want: 4096},
		{in: "0x1000", want: 4096},
		{in: "512MiB", want: 512 << 20},
		{in: "1 GB", want: 1000000000},
		{in: "-1", wantErr: true},
		{in: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if tt.wantErr {
				if !errors.Is(err, protocol.ErrInvalidArgument) {
					t.Errorf("parseSize(%q) error = %v, want ErrInvalidArgument", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSize(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
