package mocks

import mock "github.com/stretchr/testify/mock"

// Handler is a mock type for the network.Handler type.
type Handler struct {
	mock.Mock
}

// Blocks provides a mock function with given fields: blocks
func (_m *Handler) Blocks(blocks [][]byte) {
	_m.Called(blocks)
}

// Consensus provides a mock function with given fields: payload
func (_m *Handler) Consensus(payload []byte) {
	_m.Called(payload)
}

// Sync provides a mock function with given fields: from
func (_m *Handler) Sync(from uint64) [][]byte {
	ret := _m.Called(from)

	var r0 [][]byte
	if rf, ok := ret.Get(0).(func(uint64) [][]byte); ok {
		r0 = rf(from)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([][]byte)
	}

	return r0
}

// Txn provides a mock function with given fields: txn
func (_m *Handler) Txn(txn []byte) {
	_m.Called(txn)
}
