// Package fastboot provides the command/response engine for talking to a
// device in fastboot mode, either the bootloader or fastbootd.
//
// # Overview
//
// The Client sends one command at a time and runs the status read loop:
//   - INFO and TEXT frames are collected and forwarded to callbacks
//   - OKAY, FAIL and unknown frames end the exchange
//   - DATA opens a download or upload phase of the announced size
//   - no frame within the idle timeout ends the exchange with Timeout
//
// # Basic Usage
//
//	// User provides the transport (io.ReadWriter)
//	device, err := transport.DialTCP(ctx, "192.168.1.20")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := fastboot.New(device)
//
//	product, err := client.GetVar(ctx, protocol.VarProduct)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := client.Download(ctx, bootImage); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := client.Flash(ctx, "boot_a"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress Tracking
//
//	client := fastboot.New(device,
//	    fastboot.WithProgressCallback(func(p fastboot.Progress) {
//	        fmt.Printf("[%s] %.1f%%\n", p.Phase, p.Percentage)
//	    }),
//	    fastboot.WithMessageCallback(func(m protocol.Message) {
//	        fmt.Println("(bootloader)", m.Content)
//	    }),
//	)
//
// # Configuration Options
//
//	client := fastboot.New(device,
//	    fastboot.WithLogger(myLogger),
//	    fastboot.WithReadTimeout(30*time.Second),
//	    fastboot.WithTransferChunkSize(1<<20),
//	    fastboot.WithRetries(3),
//	)
//
// # Caching
//
// Variables read with GetVar and has-slot answers are cached for the
// session. GetVarAll repopulates the cache, SetActive drops current-slot,
// and Reboot and Reconnect drop everything.
//
// # Error Handling
//
// Every command returns the Response together with an error:
//   - protocol.DeviceError: the device answered FAIL
//   - protocol.TransportError: reading or writing the transport failed
//   - protocol.TimeoutError: the device went silent
//   - protocol.UnknownResponseError: the device answered with an unknown prefix
//   - ErrUnexpectedResponse: a valid answer that does not fit the exchange
//
// # Hardware Independence
//
// This package does NOT implement USB. Users provide an io.ReadWriter; one
// Write carries one command or data chunk and one Read returns one status
// frame. Transports that also implement SetReadDeadline(time.Time) get the
// idle timeout enforced on blocking reads. Package transport provides TCP
// and UDP implementations.
package fastboot
