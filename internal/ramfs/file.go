package ramfs

// NDirect is the number of direct block pointers per inode, spec §3.
const NDirect = 12

const ptrsPerBlock = PageSize / 4

// fileBlocks is a regular file's block-pointer array: NDirect direct
// pointers, one single-indirect, one double-indirect, one triple-indirect,
// mirroring the classical Unix layout spec §4.8 calls for. All pointers are
// block numbers into the superblock's blockPool; 0 means "hole, not yet
// allocated".
type fileBlocks struct {
	direct [NDirect]uint32
	single uint32
	double uint32
	triple uint32
}

func newFileBlocks() *fileBlocks { return &fileBlocks{} }

// blockForRead resolves the block-pool number backing logical block index
// idx, without allocating; ok is false for an unallocated hole.
func (f *fileBlocks) blockForRead(pool *blockPool, idx int) (uint32, bool) {
	switch {
	case idx < NDirect:
		p := f.direct[idx]
		return p, p != 0
	case idx < NDirect+ptrsPerBlock:
		return f.indirectLookup(pool, f.single, idx-NDirect, false)
	case idx < NDirect+ptrsPerBlock+ptrsPerBlock*ptrsPerBlock:
		rel := idx - NDirect - ptrsPerBlock
		return f.doubleLookup(pool, f.double, rel, false)
	default:
		rel := idx - NDirect - ptrsPerBlock - ptrsPerBlock*ptrsPerBlock
		return f.tripleLookup(pool, f.triple, rel, false)
	}
}

// blockForWrite resolves (allocating as needed, including indirect blocks
// themselves) the block-pool number backing logical block index idx.
func (f *fileBlocks) blockForWrite(pool *blockPool, idx int) uint32 {
	switch {
	case idx < NDirect:
		if f.direct[idx] == 0 {
			f.direct[idx] = pool.alloc()
		}
		return f.direct[idx]
	case idx < NDirect+ptrsPerBlock:
		if f.single == 0 {
			f.single = pool.alloc()
		}
		p, _ := f.indirectLookup(pool, f.single, idx-NDirect, true)
		return p
	case idx < NDirect+ptrsPerBlock+ptrsPerBlock*ptrsPerBlock:
		if f.double == 0 {
			f.double = pool.alloc()
		}
		rel := idx - NDirect - ptrsPerBlock
		p, _ := f.doubleLookup(pool, f.double, rel, true)
		return p
	default:
		if f.triple == 0 {
			f.triple = pool.alloc()
		}
		rel := idx - NDirect - ptrsPerBlock - ptrsPerBlock*ptrsPerBlock
		p, _ := f.tripleLookup(pool, f.triple, rel, true)
		return p
	}
}

func (f *fileBlocks) indirectLookup(pool *blockPool, indirectBlockNum uint32, slot int, alloc bool) (uint32, bool) {
	if indirectBlockNum == 0 {
		return 0, false
	}
	block := pool.get(indirectBlockNum)
	ptrs := decodeUint32s(block)
	p := ptrs[slot]
	if p == 0 {
		if !alloc {
			return 0, false
		}
		p = pool.alloc()
		ptrs[slot] = p
		encodeUint32s(block, ptrs)
	}
	return p, true
}

func (f *fileBlocks) doubleLookup(pool *blockPool, doubleBlockNum uint32, rel int, alloc bool) (uint32, bool) {
	if doubleBlockNum == 0 {
		return 0, false
	}
	outer := rel / ptrsPerBlock
	inner := rel % ptrsPerBlock
	block := pool.get(doubleBlockNum)
	ptrs := decodeUint32s(block)
	mid := ptrs[outer]
	if mid == 0 {
		if !alloc {
			return 0, false
		}
		mid = pool.alloc()
		ptrs[outer] = mid
		encodeUint32s(block, ptrs)
	}
	return f.indirectLookup(pool, mid, inner, alloc)
}

func (f *fileBlocks) tripleLookup(pool *blockPool, tripleBlockNum uint32, rel int, alloc bool) (uint32, bool) {
	if tripleBlockNum == 0 {
		return 0, false
	}
	outer := rel / (ptrsPerBlock * ptrsPerBlock)
	inner := rel % (ptrsPerBlock * ptrsPerBlock)
	block := pool.get(tripleBlockNum)
	ptrs := decodeUint32s(block)
	mid := ptrs[outer]
	if mid == 0 {
		if !alloc {
			return 0, false
		}
		mid = pool.alloc()
		ptrs[outer] = mid
		encodeUint32s(block, ptrs)
	}
	return f.doubleLookup(pool, mid, inner, alloc)
}

// readAt copies up to len(buf) bytes starting at pos, stopping at size;
// holes read back as zeros.
func (f *fileBlocks) readAt(pool *blockPool, buf []byte, pos int64, size int64) (int, error) {
	if pos >= size {
		return 0, nil
	}
	avail := size - pos
	if int64(len(buf)) > avail {
		buf = buf[:avail]
	}
	n := 0
	for n < len(buf) {
		idx := int((pos + int64(n)) / PageSize)
		off := int((pos + int64(n)) % PageSize)
		chunk := PageSize - off
		if chunk > len(buf)-n {
			chunk = len(buf) - n
		}
		blockNum, ok := f.blockForRead(pool, idx)
		if !ok {
			n += chunk // hole: leave buf[n:n+chunk] as its zero value
			continue
		}
		block := pool.get(blockNum)
		copy(buf[n:n+chunk], block[off:off+chunk])
		n += chunk
	}
	return n, nil
}

// writeAt copies all of buf into the file starting at pos, allocating
// blocks (including holes) as needed.
func (f *fileBlocks) writeAt(pool *blockPool, buf []byte, pos int64) (int, error) {
	n := 0
	for n < len(buf) {
		idx := int((pos + int64(n)) / PageSize)
		off := int((pos + int64(n)) % PageSize)
		chunk := PageSize - off
		if chunk > len(buf)-n {
			chunk = len(buf) - n
		}
		blockNum := f.blockForWrite(pool, idx)
		block := pool.get(blockNum)
		copy(block[off:off+chunk], buf[n:n+chunk])
		n += chunk
	}
	return n, nil
}

// truncate frees every direct/indirect-addressed data block whose logical
// index is >= ceil(length/PageSize) (the block holding byte length-1 is
// kept), per spec §9's trunc_inode resolution. A later
// truncInode that raises size back up without rewriting these blocks (spec
// §8's truncate-down-then-grow scenario) must find the freed range reading
// back as zeros, so the pointers are cleared, not merely left referencing
// stale data. A top-level indirect block is freed when the cut falls at or
// before its first slot. An index block that the cut falls inside is kept
// with its cleared slots, even when no live slot remains in it (as when the
// cut lands on slot 0 of a mid-level block); it is freed with the rest of
// the tree by freeAll.
func (f *fileBlocks) truncate(pool *blockPool, length int64) {
	firstFreed := int((length + PageSize - 1) / PageSize)
	for i := firstFreed; i < NDirect; i++ {
		pool.free(f.direct[i])
		f.direct[i] = 0
	}

	singleStart := NDirect
	doubleStart := NDirect + ptrsPerBlock
	tripleStart := NDirect + ptrsPerBlock + ptrsPerBlock*ptrsPerBlock

	if f.single != 0 && firstFreed < doubleStart {
		if firstFreed <= singleStart {
			freeIndirectTree(pool, f.single, 0)
			f.single = 0
		} else {
			truncIndirect(pool, f.single, firstFreed-singleStart)
		}
	}
	if f.double != 0 && firstFreed < tripleStart {
		if firstFreed <= doubleStart {
			freeIndirectTree(pool, f.double, 1)
			f.double = 0
		} else {
			truncDouble(pool, f.double, firstFreed-doubleStart)
		}
	}
	if f.triple != 0 {
		if firstFreed <= tripleStart {
			freeIndirectTree(pool, f.triple, 2)
			f.triple = 0
		} else {
			truncTriple(pool, f.triple, firstFreed-tripleStart)
		}
	}
}

// truncIndirect frees and clears every data-block pointer at slot >= rel in
// the single-indirect block blockNum; slots before rel are left untouched.
func truncIndirect(pool *blockPool, blockNum uint32, rel int) {
	block := pool.get(blockNum)
	ptrs := decodeUint32s(block)
	changed := false
	for i := rel; i < len(ptrs); i++ {
		if ptrs[i] != 0 {
			pool.free(ptrs[i])
			ptrs[i] = 0
			changed = true
		}
	}
	if changed {
		encodeUint32s(block, ptrs)
	}
}

// truncDouble frees everything reachable through the double-indirect block
// blockNum at or beyond logical offset rel within the double-indirect range:
// the mid-block holding rel is truncated in place, and every mid-block after
// it is freed in its entirety.
func truncDouble(pool *blockPool, blockNum uint32, rel int) {
	outer := rel / ptrsPerBlock
	inner := rel % ptrsPerBlock
	block := pool.get(blockNum)
	ptrs := decodeUint32s(block)
	if ptrs[outer] != 0 {
		truncIndirect(pool, ptrs[outer], inner)
	}
	changed := false
	for i := outer + 1; i < len(ptrs); i++ {
		if ptrs[i] != 0 {
			freeIndirectTree(pool, ptrs[i], 0)
			ptrs[i] = 0
			changed = true
		}
	}
	if changed {
		encodeUint32s(block, ptrs)
	}
}

// truncTriple is truncDouble one level up: it truncates the double-indirect
// subtree holding rel in place and frees every subtree after it whole.
func truncTriple(pool *blockPool, blockNum uint32, rel int) {
	outer := rel / (ptrsPerBlock * ptrsPerBlock)
	inner := rel % (ptrsPerBlock * ptrsPerBlock)
	block := pool.get(blockNum)
	ptrs := decodeUint32s(block)
	if ptrs[outer] != 0 {
		truncDouble(pool, ptrs[outer], inner)
	}
	changed := false
	for i := outer + 1; i < len(ptrs); i++ {
		if ptrs[i] != 0 {
			freeIndirectTree(pool, ptrs[i], 1)
			ptrs[i] = 0
			changed = true
		}
	}
	if changed {
		encodeUint32s(block, ptrs)
	}
}

// freeAll releases every block this file ever allocated, called when the
// owning inode is reaped.
func (f *fileBlocks) freeAll(pool *blockPool) {
	for _, p := range f.direct {
		pool.free(p)
	}
	freeIndirectTree(pool, f.single, 0)
	freeIndirectTree(pool, f.double, 1)
	freeIndirectTree(pool, f.triple, 2)
}

// freeIndirectTree frees an indirect block tree of the given depth
// (0=single pointing at data, 1=double, 2=triple) along with the data
// blocks it ultimately addresses.
func freeIndirectTree(pool *blockPool, blockNum uint32, depth int) {
	if blockNum == 0 {
		return
	}
	if depth == 0 {
		block := pool.get(blockNum)
		for _, p := range decodeUint32s(block) {
			pool.free(p)
		}
		pool.free(blockNum)
		return
	}
	block := pool.get(blockNum)
	for _, p := range decodeUint32s(block) {
		freeIndirectTree(pool, p, depth-1)
	}
	pool.free(blockNum)
}
