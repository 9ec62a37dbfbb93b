// Package transport provides network transports for fastboot devices.
//
// Both transports implement io.ReadWriteCloser plus SetReadDeadline, which
// lets the fastboot client apply its idle timeout:
//
//	conn, err := transport.Dial(ctx, "tcp:192.168.1.20")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := fastboot.New(conn)
//
// # TCP
//
// After a "FB01" handshake every message is prefixed by its length as an
// 8-byte big-endian integer. Read never returns bytes of two messages at
// once, so one status frame is one Read.
//
// # UDP
//
// Every packet carries a 4-byte header (id, flags, 16-bit sequence
// number) and is answered by the device with the same sequence number.
// Lost packets are retransmitted a bounded number of times. Messages
// larger than the negotiated packet size are split with the continuation
// flag, and Read polls the device with empty packets until it has data.
package transport
