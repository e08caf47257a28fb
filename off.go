//go:build gioppler_off

package gioppler

func init() { forceOff = true }
