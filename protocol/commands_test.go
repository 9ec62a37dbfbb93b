package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		wantErr error
	}{
		{name: "plain command", cmd: "getvar:product"},
		{name: "maximum length", cmd: strings.Repeat("a", MaxCommandSize)},
		{name: "too long", cmd: strings.Repeat("a", MaxCommandSize+1), wantErr: ErrCommandTooLong},
		{name: "empty", cmd: "", wantErr: ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCommand(tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, []byte(tt.cmd)) {
				t.Errorf("BuildCommand() = %q, want %q", got, tt.cmd)
			}
		})
	}
}

func TestBuildDownloadCmd(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		want    string
		wantErr bool
		errMsg  string
	}{
		{name: "small", size: 0x400, want: "download:00000400"},
		{name: "lowercase hex", size: 0xABCDEF, want: "download:00abcdef"},
		{name: "zero", size: 0, want: "download:00000000"},
		{name: "maximum", size: MaxDataSize, want: "download:ffffffff"},
		{name: "above maximum", size: MaxDataSize + 1, wantErr: true, errMsg: "out of range"},
		{name: "negative", size: -1, wantErr: true, errMsg: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildDownloadCmd(tt.size)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("BuildDownloadCmd(%d) = %q, want %q", tt.size, got, tt.want)
			}
		})
	}
}

func TestBuildRebootCmd(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{target: "", want: "reboot"},
		{target: RebootSystem, want: "reboot"},
		{target: RebootBootloader, want: "reboot-bootloader"},
		{target: RebootRecovery, want: "reboot-recovery"},
		{target: RebootFastboot, want: "reboot-fastboot"},
		{target: "edl", want: "reboot-edl"},
	}

	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.target, func(t *testing.T) {
			got, err := BuildRebootCmd(tt.target)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("BuildRebootCmd(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestBuildFetchCmd(t *testing.T) {
	tests := []struct {
		name    string
		offset  int64
		size    int64
		want    string
		wantErr bool
	}{
		{name: "whole partition", want: "fetch:boot_a"},
		{name: "offset only", offset: 0x1000, want: "fetch:boot_a:00001000"},
		{name: "size only", size: 0x200, want: "fetch:boot_a:00000000:00000200"},
		{name: "offset and size", offset: 0x10, size: 0x20, want: "fetch:boot_a:00000010:00000020"},
		{name: "negative offset", offset: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildFetchCmd("boot_a", tt.offset, tt.size)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("BuildFetchCmd() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildSnapshotUpdateCmd(t *testing.T) {
	for _, action := range []string{SnapshotCancel, SnapshotMerge} {
		got, err := BuildSnapshotUpdateCmd(action)
		if err != nil {
			t.Fatalf("BuildSnapshotUpdateCmd(%q) unexpected error: %v", action, err)
		}
		if want := "snapshot-update:" + action; string(got) != want {
			t.Errorf("BuildSnapshotUpdateCmd(%q) = %q, want %q", action, got, want)
		}
	}

	if _, err := BuildSnapshotUpdateCmd("rollback"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("BuildSnapshotUpdateCmd(rollback) error = %v, want ErrInvalidArgument", err)
	}
}

func TestSimpleCommandBuilders(t *testing.T) {
	tests := []struct {
		name  string
		build func() ([]byte, error)
		want  string
	}{
		{"getvar", func() ([]byte, error) { return BuildGetVarCmd("partition-size:system_a") }, "getvar:partition-size:system_a"},
		{"upload", func() ([]byte, error) { return BuildUploadCmd("last_kmsg") }, "upload:last_kmsg"},
		{"flash", func() ([]byte, error) { return BuildFlashCmd("boot_a") }, "flash:boot_a"},
		{"erase", func() ([]byte, error) { return BuildEraseCmd("cache") }, "erase:cache"},
		{"format", func() ([]byte, error) { return BuildFormatCmd("userdata") }, "format:userdata"},
		{"boot", BuildBootCmd, "boot"},
		{"continue", BuildContinueCmd, "continue"},
		{"set_active", func() ([]byte, error) { return BuildSetActiveCmd("b") }, "set_active:b"},
		{"oem", func() ([]byte, error) { return BuildOemCmd("device-info") }, "oem device-info"},
		{"flashing", func() ([]byte, error) { return BuildFlashingCmd("unlock_critical") }, "flashing unlock_critical"},
		{"create logical", func() ([]byte, error) { return BuildCreateLogicalPartitionCmd("product_a", 4096) }, "create-logical-partition:product_a:4096"},
		{"resize logical", func() ([]byte, error) { return BuildResizeLogicalPartitionCmd("system_a", 1048576) }, "resize-logical-partition:system_a:1048576"},
		{"delete logical", func() ([]byte, error) { return BuildDeleteLogicalPartitionCmd("odm_b") }, "delete-logical-partition:odm_b"},
		{"get_staged", BuildGetStagedCmd, "get_staged"},
		{"stage", BuildStageCmd, "stage"},
		{"signature", BuildSignatureCmd, "signature"},
		{"update-super", func() ([]byte, error) { return BuildUpdateSuperCmd("super", false) }, "update-super:super"},
		{"update-super wipe", func() ([]byte, error) { return BuildUpdateSuperCmd("super", true) }, "update-super:super:wipe"},
		{"wipe-super", func() ([]byte, error) { return BuildWipeSuperCmd("super") }, "wipe-super:super"},
		{"gsi", func() ([]byte, error) { return BuildGsiCmd("disable") }, "gsi:disable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.build()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandBuildersRejectEmptyArguments(t *testing.T) {
	tests := []struct {
		name  string
		build func() ([]byte, error)
	}{
		{"getvar", func() ([]byte, error) { return BuildGetVarCmd("") }},
		{"flash", func() ([]byte, error) { return BuildFlashCmd("") }},
		{"erase", func() ([]byte, error) { return BuildEraseCmd("") }},
		{"set_active", func() ([]byte, error) { return BuildSetActiveCmd("") }},
		{"oem", func() ([]byte, error) { return BuildOemCmd("  ") }},
		{"flashing", func() ([]byte, error) { return BuildFlashingCmd("") }},
		{"create logical", func() ([]byte, error) { return BuildCreateLogicalPartitionCmd("", 1) }},
		{"negative size", func() ([]byte, error) { return BuildResizeLogicalPartitionCmd("system", -1) }},
		{"gsi", func() ([]byte, error) { return BuildGsiCmd("") }},
		{"fetch", func() ([]byte, error) { return BuildFetchCmd("", 0, 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
