package protocol

import "time"

// ProtocolVersion is the fastboot protocol version implemented by this library.
const ProtocolVersion = "0.4"

// Frame structure constants.
const (
	// PrefixSize is the length of the status prefix of every response frame
	PrefixSize = 4

	// DataSizeDigits is the number of hex digits following a DATA prefix
	DataSizeDigits = 8

	// MaxCommandSize is the longest command a device accepts in bytes
	MaxCommandSize = 4096

	// MaxResponseSize is the longest status frame a device sends
	MaxResponseSize = 256

	// MaxDataSize is the largest payload a download command can announce
	MaxDataSize = 0xFFFFFFFF
)

// Status frame prefixes.
const (
	// PrefixOkay ends an exchange successfully
	PrefixOkay = "OKAY"

	// PrefixFail ends an exchange with a device-reported error
	PrefixFail = "FAIL"

	// PrefixInfo carries an informational line and keeps the exchange open
	PrefixInfo = "INFO"

	// PrefixText carries free text and keeps the exchange open
	PrefixText = "TEXT"

	// PrefixData announces a data phase of the given size
	PrefixData = "DATA"
)

// Command verbs.
const (
	CmdGetVar                 = "getvar"
	CmdDownload               = "download"
	CmdUpload                 = "upload"
	CmdFlash                  = "flash"
	CmdErase                  = "erase"
	CmdFormat                 = "format"
	CmdReboot                 = "reboot"
	CmdSetActive              = "set_active"
	CmdOem                    = "oem"
	CmdFlashing               = "flashing"
	CmdSnapshotUpdate         = "snapshot-update"
	CmdCreateLogicalPartition = "create-logical-partition"
	CmdDeleteLogicalPartition = "delete-logical-partition"
	CmdResizeLogicalPartition = "resize-logical-partition"
	CmdFetch                  = "fetch"
	CmdGetStaged              = "get_staged"
	CmdStage                  = "stage"
	CmdBoot                   = "boot"
	CmdContinue               = "continue"
	CmdUpdateSuper            = "update-super"
	CmdWipeSuper              = "wipe-super"
	CmdSignature              = "signature"
	CmdGsi                    = "gsi"
)

// Well-known variables.
const (
	VarAll                  = "all"
	VarProduct              = "product"
	VarVariant              = "variant"
	VarSerialNo             = "serialno"
	VarSecure               = "secure"
	VarUnlocked             = "unlocked"
	VarVersion              = "version"
	VarVersionBootloader    = "version-bootloader"
	VarVersionBaseband      = "version-baseband"
	VarMaxDownloadSize      = "max-download-size"
	VarCurrentSlot          = "current-slot"
	VarSlotCount            = "slot-count"
	VarHasSlot              = "has-slot"
	VarIsUserspace          = "is-userspace"
	VarIsLogical            = "is-logical"
	VarPartitionSize        = "partition-size"
	VarPartitionType        = "partition-type"
	VarSuperPartitionName   = "super-partition-name"
	VarSnapshotUpdateStatus = "snapshot-update-status"
	VarSparseCRC            = "sparse-crc"
	VarCRC                  = "crc"
)

// Reboot targets understood by Reboot.
const (
	RebootSystem     = "system"
	RebootBootloader = "bootloader"
	RebootRecovery   = "recovery"
	RebootFastboot   = "fastboot"
)

// Snapshot update actions.
const (
	SnapshotCancel = "cancel"
	SnapshotMerge  = "merge"
)

// Engine defaults.
const (
	// DefaultReadTimeout is the idle time allowed between two status frames
	DefaultReadTimeout = 30 * time.Second

	// DefaultTransferChunkSize is the size of each bulk write during a download
	DefaultTransferChunkSize = 1 << 20

	// DefaultMaxDownloadSize is assumed when the device does not report one
	DefaultMaxDownloadSize = 256 << 20

	// DefaultRetries bounds consecutive transient read failures
	DefaultRetries = 3
)
