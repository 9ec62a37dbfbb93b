// Package protocol implements the fastboot wire grammar.
//
// This package provides functions to build command strings and decode status
// frames as exchanged with an Android bootloader or with fastbootd.
//
// # Protocol Overview
//
// The host sends one ASCII command per transfer and the device answers with
// one or more status frames:
//
//	Command: [ASCII COMMAND (max 4096)]
//	Status:  [PREFIX(4)][PAYLOAD (max 252)]
//
// Where PREFIX is one of:
//   - OKAY = command succeeded, payload is an optional message
//   - FAIL = command failed, payload is the device's reason
//   - INFO = informational line, more frames follow
//   - TEXT = free text, more frames follow
//   - DATA = data phase of 8 hex digits length follows
//
// A download is a "download:%08x" command answered by DATA, followed by
// exactly that many payload bytes and a final OKAY or FAIL.
//
// # Command Builders
//
// Use the Build* functions to create commands:
//
//	cmd, err := protocol.BuildGetVarCmd("max-download-size")
//	cmd, err := protocol.BuildDownloadCmd(int64(len(image)))
//	cmd, err := protocol.BuildFlashCmd("boot_a")
//	// ... etc
//
// Builders reject commands longer than MaxCommandSize and arguments the
// device cannot represent.
//
// # Status Frames
//
// Use ParseStatusFrame to decode one frame:
//
//	frame, err := protocol.ParseStatusFrame(buf[:n])
//	switch frame.Kind {
//	case protocol.Info:
//	    // keep reading
//	case protocol.Success:
//	    // done
//	}
//
// The fastboot package drives the full exchange and accumulates frames into
// a Response.
//
// # Error Handling
//
// Response.Err converts a terminal state into an error:
//
//	if err := resp.Err(); err != nil {
//	    // *DeviceError for FAIL, *TransportError for a host-side read or
//	    // write failure, *TimeoutError for an idle device,
//	    // *UnknownResponseError for an unrecognized prefix
//	}
//
// Device messages are carried unchanged in DeviceError.Message.
package protocol
