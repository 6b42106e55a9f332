package driver

import (
	"encoding/binary"

	"golang.org/x/net/bpf"

	"firestige.xyz/ministack/internal/core"
)

// linkFilter admits frames addressed to mac or to broadcast, and rejects
// frames sent from mac so that a socket does not read back its own output.
func linkFilter(mac core.MAC, snapLen uint32) []bpf.Instruction {
	hi := binary.BigEndian.Uint32(mac[0:4])
	lo := uint32(binary.BigEndian.Uint16(mac[4:6]))

	return []bpf.Instruction{
		// source == mac → reject
		bpf.LoadAbsolute{Off: 6, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: hi, SkipFalse: 2},
		bpf.LoadAbsolute{Off: 10, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: lo, SkipTrue: 9},
		// destination == mac → accept
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: hi, SkipFalse: 2},
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: lo, SkipTrue: 4},
		// destination == broadcast → accept
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0xffffffff, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0xffff, SkipFalse: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	}
}

// assembleLinkFilter returns linkFilter in the raw form accepted by sockets.
func assembleLinkFilter(mac core.MAC, snapLen uint32) ([]bpf.RawInstruction, error) {
	return bpf.Assemble(linkFilter(mac, snapLen))
}
