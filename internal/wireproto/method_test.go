package wireproto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haiku-connector/gateway/internal/wireproto"
)

func TestDecodeMethod(t *testing.T) {
	assert.Equal(t, wireproto.Get, wireproto.DecodeMethod(0))
	assert.Equal(t, wireproto.Post, wireproto.DecodeMethod(1))
	assert.Equal(t, wireproto.Put, wireproto.DecodeMethod(2))
	assert.Equal(t, wireproto.Delete, wireproto.DecodeMethod(3))
	assert.Equal(t, wireproto.Unknown, wireproto.DecodeMethod(4))
	assert.Equal(t, wireproto.Unknown, wireproto.DecodeMethod(255))
}

func TestHTTPMethod(t *testing.T) {
	assert.Equal(t, "GET", wireproto.Get.HTTPMethod())
	assert.Equal(t, "POST", wireproto.Post.HTTPMethod())
	assert.Equal(t, "PUT", wireproto.Put.HTTPMethod())
	assert.Equal(t, "DELETE", wireproto.Delete.HTTPMethod())
	assert.Equal(t, "", wireproto.Unknown.HTTPMethod())
}
