// Package mocks provides test doubles for the farmdata client.
package mocks

import (
	"context"
	"encoding/json"

	farmdata "github.com/sells-group/farmdata-cli/pkg/farmdata"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Token provides a mock function with given fields: ctx, username, password
func (_m *MockClient) Token(ctx context.Context, username string, password string) (*farmdata.TokenResponse, error) {
	ret := _m.Called(ctx, username, password)

	if len(ret) == 0 {
		panic("no return value specified for Token")
	}

	var r0 *farmdata.TokenResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*farmdata.TokenResponse, error)); ok {
		return rf(ctx, username, password)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*farmdata.TokenResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// UploadCriteria provides a mock function with given fields: ctx, token, req
func (_m *MockClient) UploadCriteria(ctx context.Context, token string, req farmdata.SubmissionRequest) (*farmdata.UploadResponse, error) {
	ret := _m.Called(ctx, token, req)

	if len(ret) == 0 {
		panic("no return value specified for UploadCriteria")
	}

	var r0 *farmdata.UploadResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, farmdata.SubmissionRequest) (*farmdata.UploadResponse, error)); ok {
		return rf(ctx, token, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*farmdata.UploadResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetStatus provides a mock function with given fields: ctx, token, requestID
func (_m *MockClient) GetStatus(ctx context.Context, token string, requestID string) (*farmdata.StatusRecord, error) {
	ret := _m.Called(ctx, token, requestID)

	if len(ret) == 0 {
		panic("no return value specified for GetStatus")
	}

	var r0 *farmdata.StatusRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*farmdata.StatusRecord, error)); ok {
		return rf(ctx, token, requestID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*farmdata.StatusRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// GetResponse provides a mock function with given fields: ctx, token, requestID
func (_m *MockClient) GetResponse(ctx context.Context, token string, requestID string) (json.RawMessage, error) {
	ret := _m.Called(ctx, token, requestID)

	if len(ret) == 0 {
		panic("no return value specified for GetResponse")
	}

	var r0 json.RawMessage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (json.RawMessage, error)); ok {
		return rf(ctx, token, requestID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(json.RawMessage)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
