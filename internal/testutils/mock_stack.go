package testutils

import (
	"github.com/srg/amtrelay/internal/stack"
	"github.com/stretchr/testify/mock"
)

// MockStack implements stack.Stack for testing
type MockStack struct {
	mock.Mock
}

var _ stack.Stack = (*MockStack)(nil)

// AllowAll registers permissive expectations returning nil for every call.
// Register specific expectations before calling it; testify picks the first
// matching one.
func (m *MockStack) AllowAll() *MockStack {
	for _, method := range []string{"StartScan", "StopScan", "StartAdvertising", "StopAdvertising"} {
		m.On(method).Return(nil).Maybe()
	}
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RequestPHY", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpdateConnParams", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SecureLink", mock.Anything).Return(nil).Maybe()
	m.On("DiscoverService", mock.Anything).Return(nil).Maybe()
	m.On("EnableNotifications", mock.Anything).Return(nil).Maybe()
	m.On("ReadBack", mock.Anything).Return(nil).Maybe()
	m.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SetReadBack", mock.Anything).Return(nil).Maybe()
	m.On("ReplyAuthorize", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

// CallCount returns how many times method was called.
func (m *MockStack) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *MockStack) StartScan() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStack) StopScan() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStack) StartAdvertising() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStack) StopAdvertising() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStack) Connect(addr string, params stack.ConnParams) error {
	args := m.Called(addr, params)
	return args.Error(0)
}

func (m *MockStack) Disconnect(h stack.Handle, reason uint8) error {
	args := m.Called(h, reason)
	return args.Error(0)
}

func (m *MockStack) RequestPHY(h stack.Handle, phys stack.PHYSet) error {
	args := m.Called(h, phys)
	return args.Error(0)
}

func (m *MockStack) UpdateConnParams(h stack.Handle, params stack.ConnParams) error {
	args := m.Called(h, params)
	return args.Error(0)
}

func (m *MockStack) SecureLink(h stack.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *MockStack) DiscoverService(h stack.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *MockStack) EnableNotifications(h stack.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *MockStack) ReadBack(h stack.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *MockStack) Notify(h stack.Handle, payload []byte) error {
	args := m.Called(h, payload)
	return args.Error(0)
}

func (m *MockStack) SetReadBack(value uint32) error {
	args := m.Called(value)
	return args.Error(0)
}

func (m *MockStack) ReplyAuthorize(h stack.Handle, kind stack.AuthorizeKind, status uint16) error {
	args := m.Called(h, kind, status)
	return args.Error(0)
}
