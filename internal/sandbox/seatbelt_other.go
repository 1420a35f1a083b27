//go:build !darwin

package sandbox

import (
	"context"
	"errors"
)

type seatbeltBackend struct{}

func newSeatbeltBackend() Backend { return seatbeltBackend{} }

func (seatbeltBackend) Name() string    { return "seatbelt" }
func (seatbeltBackend) Available() bool { return false }

func (seatbeltBackend) Start(context.Context, Config) (*Process, error) {
	return nil, errors.New("seatbelt backend requires darwin")
}
