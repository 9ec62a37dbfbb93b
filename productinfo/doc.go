// Package productinfo parses the two text files that ship next to a set of
// partition images.
//
// # android-info.txt
//
// Requirement lines restrict which devices a product directory may be
// flashed onto:
//
//	require board=walleye|taimen
//	require version-bootloader=mw8998-002.*
//	reject variant=eng
//	require-for-product:walleye version-baseband=g8998-00164-*
//
// Values are separated by '|' or ','. A trailing '*' matches any value with
// that prefix. The "board" variable is read from the device's "product"
// variable. Conditional lines only apply when the device's product or
// variant equals the named one.
//
// Usage:
//
//	req, err := productinfo.Parse(filepath.Join(dir, "android-info.txt"))
//	if err != nil {
//	    return err
//	}
//	err = req.Check(func(name string) (string, error) {
//	    return client.GetVar(ctx, name)
//	})
//
// # fastboot-info.txt
//
// Newer product directories describe the flashing sequence explicitly:
//
//	version 1
//	flash boot
//	flash --apply-vbmeta vbmeta
//	flash --slot-other system system_other.img
//	reboot fastboot
//	update-super
//	if-wipe erase userdata
//
// ParseFastbootInfo turns the file into a Plan of ordered tasks. Unknown
// directives and malformed lines are reported with their line number.
package productinfo
