package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	h := SHA3([]byte("hello"))
	assert.Equal(t, "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", h.Hex())
	assert.Equal(t, h, SHA3([]byte("he"), []byte("llo")))
}

func TestAddr(t *testing.T) {
	h := SHA3([]byte("hello"))
	addr := h.Addr()
	assert.Equal(t, "7b56d9517b9c948127319a09a7a36deac8", fmt.Sprintf("%x", addr[3:]))
	assert.Equal(t, h.Hex()[24:], addr.Hex())
}
