package driver

import "fmt"

// ringLayout sizes an AF_PACKET TPACKET_V3 ring of roughly budgetMB megabytes.
//
// The kernel requires frameSize to be a multiple of TPACKET_ALIGNMENT, and
// blockSize to be a multiple of both the page size and frameSize.
func ringLayout(budgetMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const (
		tpacketAlignment = 16
		tpacketHdrLen    = 52
		maxBlockSize     = 4 << 20
	)

	if budgetMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", budgetMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Fall back to whole frames per page-aligned block.
		blockSize = alignUp(max(maxBlockSize/frameSize, 1)*frameSize, pageSize)
	}

	numBlocks = max((budgetMB<<20)/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
