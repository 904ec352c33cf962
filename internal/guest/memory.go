package guest

import (
	"context"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// replyTrailerLen is the size of the 12-byte (body_ptr, body_len, status)
// structure a host callback leaves for the guest to read back.
const replyTrailerLen = 12

// readBytes copies length bytes starting at offset out of mem. The bool
// result is false on any out-of-bounds access.
func readBytes(mem api.Memory, offset, length uint32) ([]byte, bool) {
	buf, ok := mem.Read(offset, length)
	if !ok {
		return nil, false
	}
	// mem.Read returns a view into the live linear memory; copy it out so
	// it survives subsequent guest allocations that may reuse the region.
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

// readString is readBytes plus a UTF-8 validity check.
func readString(mem api.Memory, offset, length uint32) (string, bool) {
	buf, ok := readBytes(mem, offset, length)
	if !ok || !utf8.Valid(buf) {
		return "", false
	}
	return string(buf), true
}

// allocate invokes the guest-exported allocate(len)->offset function and
// returns the offset it reports.
func allocate(ctx context.Context, allocateFn api.Function, length int) (uint32, error) {
	results, err := allocateFn.Call(ctx, uint64(length))
	if err != nil {
		return 0, fmt.Errorf("guest: allocate(%d) failed: %w", length, err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("guest: allocate(%d) returned no result", length)
	}
	return uint32(results[0]), nil
}

// writeBytes allocates len(data) bytes in the guest and writes data there,
// returning the offset. This is the host->guest Write primitive of §4.3.
func writeBytes(ctx context.Context, allocateFn api.Function, mem api.Memory, data []byte) (uint32, error) {
	offset, err := allocate(ctx, allocateFn, len(data))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return offset, nil
	}
	if !mem.Write(offset, data) {
		return 0, fmt.Errorf("guest: write of %d bytes at offset %d out of bounds", len(data), offset)
	}
	return offset, nil
}

// encodeReplyTrailer builds the 12-byte (body_ptr, body_len, status)
// little-endian structure of §4.3/§8 invariant 3. Pulled out of
// writeReplyTrailer so the wire layout itself is unit-testable without a
// live wazero instance.
func encodeReplyTrailer(bodyPtr, bodyLen uint32, status int32) []byte {
	trailer := make([]byte, replyTrailerLen)
	binary.LittleEndian.PutUint32(trailer[0:4], bodyPtr)
	binary.LittleEndian.PutUint32(trailer[4:8], bodyLen)
	binary.LittleEndian.PutUint32(trailer[8:12], uint32(status))
	return trailer
}

// writeReplyTrailer implements the §4.3 reply encoding used by the two
// synchronous haiku-connector host callbacks (send_request and
// send_fileparts_request; the async forms return nothing): it writes body
// via writeBytes, then
// writes the 12-byte trailer via a second writeBytes call, and returns the
// trailer's own offset. Two allocations per reply; neither region is ever
// freed by the host.
func writeReplyTrailer(ctx context.Context, allocateFn api.Function, mem api.Memory, status int32, body []byte) (uint32, error) {
	bodyPtr, err := writeBytes(ctx, allocateFn, mem, body)
	if err != nil {
		return 0, err
	}

	trailer := encodeReplyTrailer(bodyPtr, uint32(len(body)), status)
	return writeBytes(ctx, allocateFn, mem, trailer)
}
