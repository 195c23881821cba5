//go:build windows

package main

import (
	"github.com/hazyhaar/capflow/uia"
	"github.com/hazyhaar/capflow/uia/win32"
)

func newDriver() (uia.Driver, error) {
	return win32.New(), nil
}
