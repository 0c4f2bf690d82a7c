package a

import "gvisor.dev/x86/pkg/ring0/abi"

var (
	tagged     = abi.EntryPoint{Addr: 0x1000, Kind: abi.WithErrorCode}
	zero       = abi.EntryPoint{}
	positional = abi.EntryPoint{0x1000, abi.NoErrorCode}
	untagged   = abi.EntryPoint{Addr: 0x1000} // want `abi.EntryPoint literal without Kind`

	table = map[int]abi.EntryPoint{
		8:  {Addr: 0x2000}, // want `abi.EntryPoint literal without Kind`
		14: {Addr: 0x3000, Kind: abi.WithErrorCode},
	}
)
