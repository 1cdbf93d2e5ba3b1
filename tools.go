//go:build tools
// +build tools

// Package mprelay tracks tool dependencies (mockgen) so go generate works on a fresh checkout.
package mprelay

import (
	_ "go.uber.org/mock/mockgen"
)
