package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/primeinvest/backend/internal/directory"
	"github.com/primeinvest/backend/internal/gateway"
)

// anyCtx matches any context argument in testify expectations; the sqlmock
// variable shadows the mock package inside subtests.
var anyCtx = mock.Anything

// MockDirectory is a testify mock of directory.Directory.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Resolve(ctx context.Context, subjectID string) (*directory.Identity, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.Identity), args.Error(1)
}

// MockGateway is a testify mock of gateway.PaymentGateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Dispatch(ctx context.Context, p gateway.Payout) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
