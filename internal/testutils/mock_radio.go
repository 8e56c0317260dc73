package testutils

import (
	"github.com/srg/hrmon/internal/hrm"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a testify mock of hrm.Radio.
//
// Register failing expectations before calling AllowAll: testify matches expectations in
// registration order.
type MockRadio struct {
	mock.Mock
}

var _ hrm.Radio = (*MockRadio)(nil)

func NewMockRadio() *MockRadio {
	return &MockRadio{}
}

// AllowAll accepts any command and returns nil.
func (m *MockRadio) AllowAll() *MockRadio {
	for _, method := range radioMethods {
		m.On(method, anyArgs(method)...).Return(nil).Maybe()
	}
	return m
}

var radioMethods = []string{
	"Scan", "StopScan", "Connect", "CancelConnection",
	"DiscoverServices", "DiscoverCharacteristics", "Read", "Subscribe",
}

func (m *MockRadio) Scan(services []string) error {
	return m.Called(services).Error(0)
}

func (m *MockRadio) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockRadio) Connect(h hrm.Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockRadio) CancelConnection(h hrm.Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockRadio) DiscoverServices(h hrm.Handle, services []string) error {
	return m.Called(h, services).Error(0)
}

func (m *MockRadio) DiscoverCharacteristics(h hrm.Handle, service string) error {
	return m.Called(h, service).Error(0)
}

func (m *MockRadio) Read(h hrm.Handle, service, characteristic string) error {
	return m.Called(h, service, characteristic).Error(0)
}

func (m *MockRadio) Subscribe(h hrm.Handle, service, characteristic string) error {
	return m.Called(h, service, characteristic).Error(0)
}
