// Package abi is the subset of the real package the analyzer inspects.
package abi

type Kind uint8

const (
	NoErrorCode Kind = iota
	WithErrorCode
)

type EntryPoint struct {
	Addr uintptr
	Kind Kind
}
