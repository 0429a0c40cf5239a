package model

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// ErrNotLoaded is returned when inference runs before weights are bound.
var ErrNotLoaded = errors.New("model weights not loaded")

// ShapeMismatchError reports a parameter whose stored shape differs from
// the architecture.
type ShapeMismatchError struct {
	Name string
	Want []int
	Got  []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("parameter %s: expected shape %s, got %s",
		e.Name, tensor.FormatShape(e.Want), tensor.FormatShape(e.Got))
}

// MissingParameterError reports a parameter the architecture needs but the
// weights artifact does not carry.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("parameter %s missing from weights", e.Name)
}

// UnexpectedParameterError reports a stored parameter no layer claims.
type UnexpectedParameterError struct {
	Name string
}

func (e *UnexpectedParameterError) Error() string {
	return fmt.Sprintf("unexpected parameter %s in weights", e.Name)
}
