package badgerstore

import (
	"encoding/binary"
	"math"

	"github.com/alanyoungcy/spacewager/internal/domain"
)

var (
	keyConfig     = []byte("config")
	keyState      = []byte("state")
	prefixRounds  = []byte("rounds/")
	prefixWagers  = []byte("wagers/")
	prefixPlayers = []byte("players/")
	keyOutboxSeq  = []byte("outbox_seq")
	prefixOutbox  = []byte("outbox/")
)

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func roundKey(id uint64) []byte {
	return concat(prefixRounds, be64(id))
}

func wagerPrefix(player domain.Player) []byte {
	return concat(prefixWagers, player.Bytes())
}

func wagerKey(player domain.Player, roundID uint64) []byte {
	return concat(wagerPrefix(player), be64(roundID))
}

func playerKey(player domain.Player) []byte {
	return concat(prefixPlayers, player.Bytes())
}

func outboxKey(id uint64) []byte {
	return concat(prefixOutbox, be64(id))
}

// roundSeek returns the first key an ascending scan should visit.
func roundSeek(startAfter *uint64) ([]byte, bool) {
	if startAfter == nil {
		return prefixRounds, true
	}
	if *startAfter == math.MaxUint64 {
		return nil, false
	}
	return roundKey(*startAfter + 1), true
}

// wagerSeek returns the first key a descending scan should visit.
func wagerSeek(player domain.Player, startAfter *uint64) ([]byte, bool) {
	if startAfter == nil {
		return wagerKey(player, math.MaxUint64), true
	}
	if *startAfter == 0 {
		return nil, false
	}
	return wagerKey(player, *startAfter-1), true
}

func idSuffix(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
