package state

var (
	accountPrefix          = []byte("lendgate/account/")
	registryPositionPrefix = []byte("lendgate/registry/position/")
	marketPrefix           = []byte("lendgate/market/market/")
	marketPositionPrefix   = []byte("lendgate/market/position/")
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

func registryPositionKey(principal [20]byte) []byte {
	buf := make([]byte, len(registryPositionPrefix)+len(principal))
	copy(buf, registryPositionPrefix)
	copy(buf[len(registryPositionPrefix):], principal[:])
	return buf
}

func marketKey(id [32]byte) []byte {
	buf := make([]byte, len(marketPrefix)+len(id))
	copy(buf, marketPrefix)
	copy(buf[len(marketPrefix):], id[:])
	return buf
}

func marketPositionKey(id [32]byte, addr [20]byte) []byte {
	buf := make([]byte, len(marketPositionPrefix)+len(id)+len(addr))
	copy(buf, marketPositionPrefix)
	copy(buf[len(marketPositionPrefix):], id[:])
	copy(buf[len(marketPositionPrefix)+len(id):], addr[:])
	return buf
}
