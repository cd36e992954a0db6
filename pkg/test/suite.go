// Package test provides shared testify suite scaffolding for this repo.
package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// Suite wraps testify's suite with a ready-to-use context.
type Suite struct {
	suite.Suite
	Ctx context.Context
}

func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
}

func NewSuite() *Suite {
	return &Suite{}
}

func (s *Suite) Assert() *assert.Assertions {
	return s.Assertions
}

// Run runs a suite from a standard Test* function.
func Run(t *testing.T, s suite.TestingSuite) {
	suite.Run(t, s)
}
