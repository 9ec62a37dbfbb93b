// Package flash provides the high-level flashing workflows built on the
// fastboot client.
//
// # Overview
//
// A Flasher turns partition names and image files into command sequences:
//   - Resolving slot suffixes ("", "a", "b", "other", "all")
//   - Sending raw images whole and sparse images in parts that fit the
//     device's max-download-size
//   - Rebooting into fastbootd and resizing logical partitions
//   - Flashing whole product directories (FlashAll)
//
// # Basic Usage
//
//	client := fastboot.New(device)
//	f := flash.New(client, flash.WithSlot("other"))
//
//	if err := f.FlashImage(ctx, "boot", "out/boot.img"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := f.SetActive(ctx, "other"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Product Directories
//
// FlashAll checks android-info.txt against the device, then either runs
// fastboot-info.txt or flashes every *.img in PartitionPriority order.
// Images of logical partitions are combined into one super image, also
// for fastboot-info.txt plans run from the bootloader with a
// super_empty.img present:
//
//	f := flash.New(client,
//	    flash.WithReconnect(reconnect),
//	    flash.WithVbmetaFlags(bootimg.FlagHashtreeDisabled),
//	)
//	err := f.FlashAll(ctx, "out/target/product/walleye", true)
//
// # Rebooting
//
// Logical partitions can only be changed from fastbootd. When the device
// runs the bootloader the Flasher reboots it and calls the configured
// ReconnectFunc to obtain a new transport; without one it fails with
// ErrNoReconnect.
//
// # Error Handling
//
// Failures on a partition are returned as *PartitionError, and product
// requirement mismatches as *RequirementError:
//
//	var perr *flash.PartitionError
//	if errors.As(err, &perr) {
//	    fmt.Printf("%s of %s failed: %v\n", perr.Op, perr.Partition, perr.Err)
//	}
//
// # Thread Safety
//
// A Flasher is not safe for concurrent use. Image preparation inside
// FlashAll runs concurrently, bounded by WithParallelism; device commands
// are always sent one at a time.
package flash
