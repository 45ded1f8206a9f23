package directory

// Ref exposes the start block and size of one entry. It implements the
// chain head holder and the mini stream owner.
type Ref struct {
	d   *Directory
	idx uint32
}

// Ref returns Ref of entry idx. The index must be valid.
func (d *Directory) Ref(idx uint32) Ref {
	return Ref{d: d, idx: idx}
}

// Head returns the first block of the entry's chain.
func (r Ref) Head() uint32 {
	return r.d.entries[r.idx].Start
}

// SetHead sets the first block of the entry's chain.
func (r Ref) SetHead(v uint32) {
	r.d.entries[r.idx].Start = v
	r.d.markDirty(r.idx)
}

// Size returns the entry's stream size.
func (r Ref) Size() uint64 {
	return r.d.entries[r.idx].Size
}

// SetSize sets the entry's stream size.
func (r Ref) SetSize(v uint64) {
	r.d.entries[r.idx].Size = v
	r.d.markDirty(r.idx)
}
