//go:build !linux

package sandbox

import (
	"context"
	"errors"
)

type namespaceBackend struct{}

func newNamespaceBackend() Backend { return namespaceBackend{} }

func (namespaceBackend) Name() string    { return "namespace" }
func (namespaceBackend) Available() bool { return false }

func (namespaceBackend) Start(context.Context, Config) (*Process, error) {
	return nil, errors.New("namespace backend requires linux")
}
