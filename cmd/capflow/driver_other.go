//go:build !windows

package main

import (
	"errors"

	"github.com/hazyhaar/capflow/uia"
)

// The vendor GUI only exists on Windows. Non-Windows builds can still run
// the load and report phases; extraction needs the real console.
func newDriver() (uia.Driver, error) {
	return nil, errors.New("ui automation requires windows")
}
