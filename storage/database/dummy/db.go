package dummydb

import (
	"sync"

	"github.com/trezcool/mitihani/core/packet"
)

type (
	DB struct {
		packet *packetTable
	}

	// packetTable holds packets and their handovers. Handovers are only ever appended.
	packetTable struct {
		sync.RWMutex
		table     map[string]*packet.ExamPacket
		handovers map[string][]packet.HandoverLog
	}
)

func Open() (*DB, error) {
	db := &DB{
		packet: &packetTable{
			table:     make(map[string]*packet.ExamPacket),
			handovers: make(map[string][]packet.HandoverLog),
		},
	}
	return db, nil
}
