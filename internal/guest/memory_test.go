package guest

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReplyTrailerLayout(t *testing.T) {
	trailer := encodeReplyTrailer(0x1000, 5, 200)
	require.Len(t, trailer, replyTrailerLen)

	assert.Equal(t, uint32(0x1000), binary.LittleEndian.Uint32(trailer[0:4]))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(trailer[4:8]))
	assert.Equal(t, uint32(200), binary.LittleEndian.Uint32(trailer[8:12]))
}

func TestEncodeReplyTrailerRoundTrips(t *testing.T) {
	trailer := encodeReplyTrailer(42, 7, 404)

	ptr := binary.LittleEndian.Uint32(trailer[0:4])
	length := binary.LittleEndian.Uint32(trailer[4:8])
	status := int32(binary.LittleEndian.Uint32(trailer[8:12]))

	assert.Equal(t, uint32(42), ptr)
	assert.Equal(t, uint32(7), length)
	assert.Equal(t, int32(404), status)
}
