package postingstore

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/refstore"
	"github.com/hupe1980/refstore/generation"
	"github.com/hupe1980/refstore/resource"
)

// Size classes for in-arena posting arrays, in uint32 elements per entry.
// Element 0 of every entry is the document count; the capacity of a class is
// its array size minus that header.
var classArraySizes = [...]int{4, 8, 16, 32, 64, 128, 256}

const (
	// maxArrayDocs is the largest list kept as an in-arena array; one past it
	// promotes to a bitmap container.
	maxArrayDocs = 255

	// demoteBelow is the cardinality under which a bitmap drops back to an
	// array. Half the promotion point, so lists oscillating around the
	// boundary don't flap between representations.
	demoteBelow = 128
)

// Store is a posting-list store: it maps EntryRefs to sorted sets of
// document ids. The zero EntryRef is the empty list.
type Store struct {
	arena      *refstore.Store
	handler    *generation.Handler
	logger     *refstore.Logger
	controller *resource.Controller
	strategy   refstore.CompactionStrategy

	// classes[i] allocates entries of classArraySizes[i]; the class types are
	// registered first, so a buffer's TypeID doubles as its class index.
	classes      []*refstore.Allocator[uint32]
	bitmaps      *refstore.Allocator[uint32]
	bitmapTypeID refstore.TypeID

	registry bitmapRegistry
	scratch  []uint32
}

// New creates a posting store with one arena type per size class plus the
// bitmap-handle type.
func New(opts ...Option) (*Store, error) {
	o := options{
		logger:     refstore.NoopLogger(),
		metrics:    refstore.NoopMetricsCollector{},
		handler:    generation.NewHandler(),
		strategy:   refstore.DefaultCompactionStrategy,
		minEntries: 256,
		maxEntries: 1 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}

	arenaOpts := []refstore.Option{
		refstore.WithLogger(o.logger),
		refstore.WithMetricsCollector(o.metrics),
	}
	if o.controller != nil {
		arenaOpts = append(arenaOpts, refstore.WithMemoryAcquirer(o.controller))
	}

	arena, err := refstore.New(arenaOpts...)
	if err != nil {
		return nil, err
	}

	s := &Store{
		arena:      arena,
		handler:    o.handler,
		logger:     o.logger,
		controller: o.controller,
		strategy:   o.strategy,
	}

	for _, arraySize := range classArraySizes {
		typeID, err := arena.AddType(refstore.NewFixedType[uint32](arraySize, o.minEntries, o.maxEntries))
		if err != nil {
			return nil, fmt.Errorf("postingstore: registering size class %d: %w", arraySize, err)
		}
		alloc, err := refstore.NewAllocator[uint32](arena, typeID)
		if err != nil {
			return nil, err
		}
		s.classes = append(s.classes, alloc)
	}

	s.bitmapTypeID, err = arena.AddType(refstore.NewFixedType[uint32](1, o.minEntries, o.maxEntries))
	if err != nil {
		return nil, fmt.Errorf("postingstore: registering bitmap handle type: %w", err)
	}
	s.bitmaps, err = refstore.NewAllocator[uint32](arena, s.bitmapTypeID)
	if err != nil {
		return nil, err
	}

	if err := arena.InitActiveBuffers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Arena exposes the underlying refstore for observability.
func (s *Store) Arena() *refstore.Store {
	return s.arena
}

// Guard pins the current generation for a reader. Every read of refs
// obtained before the guard must complete before Release.
func (s *Store) Guard() generation.Guard {
	return s.handler.TakeGuard()
}

// Insert adds docID to the list and returns the ref of the updated list.
// The input ref is retired when a new representation is written; it stays
// readable until the generation passes. Inserting a present docID returns
// the ref unchanged.
func (s *Store) Insert(ref refstore.EntryRef, docID uint32) (refstore.EntryRef, error) {
	if !ref.Valid() {
		return s.allocArray([]uint32{docID})
	}
	if s.isBitmap(ref) {
		return s.bitmapInsert(ref, docID)
	}

	docs := s.arrayDocs(ref)
	i, found := slices.BinarySearch(docs, docID)
	if found {
		return ref, nil
	}

	if len(docs)+1 > maxArrayDocs {
		return s.promote(ref, docs, docID)
	}

	s.scratch = append(s.scratch[:0], docs[:i]...)
	s.scratch = append(s.scratch, docID)
	s.scratch = append(s.scratch, docs[i:]...)

	newRef, err := s.allocArray(s.scratch)
	if err != nil {
		return ref, err
	}
	s.arena.HoldEntry(ref)
	return newRef, nil
}

// Remove deletes docID from the list and returns the ref of the updated
// list; the zero ref when the list became empty. Removing an absent docID
// returns the ref unchanged.
func (s *Store) Remove(ref refstore.EntryRef, docID uint32) (refstore.EntryRef, error) {
	if !ref.Valid() {
		return ref, nil
	}
	if s.isBitmap(ref) {
		return s.bitmapRemove(ref, docID)
	}

	docs := s.arrayDocs(ref)
	i, found := slices.BinarySearch(docs, docID)
	if !found {
		return ref, nil
	}

	if len(docs) == 1 {
		s.arena.HoldEntry(ref)
		return 0, nil
	}

	s.scratch = append(s.scratch[:0], docs[:i]...)
	s.scratch = append(s.scratch, docs[i+1:]...)

	newRef, err := s.allocArray(s.scratch)
	if err != nil {
		return ref, err
	}
	s.arena.HoldEntry(ref)
	return newRef, nil
}

// Contains reports whether docID is in the list.
func (s *Store) Contains(ref refstore.EntryRef, docID uint32) bool {
	if !ref.Valid() {
		return false
	}
	if s.isBitmap(ref) {
		return s.bitmap(ref).Contains(docID)
	}
	_, found := slices.BinarySearch(s.arrayDocs(ref), docID)
	return found
}

// Frequency returns the number of documents in the list.
func (s *Store) Frequency(ref refstore.EntryRef) int {
	if !ref.Valid() {
		return 0
	}
	if s.isBitmap(ref) {
		return int(s.bitmap(ref).GetCardinality())
	}
	return len(s.arrayDocs(ref))
}

// Iterate calls fn for each docID in ascending order until fn returns false.
func (s *Store) Iterate(ref refstore.EntryRef, fn func(docID uint32) bool) {
	if !ref.Valid() {
		return
	}
	if s.isBitmap(ref) {
		it := s.bitmap(ref).Iterator()
		for it.HasNext() {
			if !fn(it.Next()) {
				return
			}
		}
		return
	}
	for _, docID := range s.arrayDocs(ref) {
		if !fn(docID) {
			return
		}
	}
}

// Docs returns the list as a freshly allocated ascending slice.
func (s *Store) Docs(ref refstore.EntryRef) []uint32 {
	if !ref.Valid() {
		return nil
	}
	if s.isBitmap(ref) {
		return s.bitmap(ref).ToArray()
	}
	return slices.Clone(s.arrayDocs(ref))
}

// IsBitmap reports whether the list is held as a promoted bitmap container.
func (s *Store) IsBitmap(ref refstore.EntryRef) bool {
	return ref.Valid() && s.isBitmap(ref)
}

// Commit is the freeze point: everything retired since the previous Commit
// is stamped with the current generation, and the generation advances so new
// reader guards no longer observe the old representations.
func (s *Store) Commit() {
	gen := s.handler.Current()
	s.arena.TransferHoldLists(gen)
	s.registry.commit(gen)
	s.handler.IncGeneration()
}

// Reclaim frees every retired representation no live guard can observe.
func (s *Store) Reclaim() {
	s.handler.UpdateFirstUsed()
	usedGen := s.handler.FirstUsed()
	s.arena.TrimHoldLists(usedGen)
	if released := s.registry.reclaim(usedGen); released > 0 {
		s.logger.Debug("bitmap containers reclaimed", "bytes", released)
	}
}

// MemoryUsage aggregates arena usage; promoted bitmap memory is accounted as
// extra used bytes of the handle entries.
func (s *Store) MemoryUsage() refstore.MemoryUsage {
	return s.arena.MemoryUsage()
}

// Close releases all arena memory. No guards may be live.
func (s *Store) Close() error {
	return s.arena.Close()
}

// isBitmap reports whether the ref points into the bitmap-handle type.
func (s *Store) isBitmap(ref refstore.EntryRef) bool {
	return s.arena.TypeOf(ref) == s.bitmapTypeID
}

// classOf returns the size-class index of an array ref.
func (s *Store) classOf(ref refstore.EntryRef) int {
	return int(s.arena.TypeOf(ref))
}

// arrayDocs returns a read-only view of the docs stored in an array entry.
// The view aliases arena memory; copy before any allocation that could
// write through the same allocator.
func (s *Store) arrayDocs(ref refstore.EntryRef) []uint32 {
	arraySize := classArraySizes[s.classOf(ref)]
	entry := refstore.GetArray[uint32](s.arena, ref, arraySize)
	return entry[1 : 1+entry[0]]
}

// classFor returns the smallest size class holding n docs, or false when n
// exceeds the largest class.
func classFor(n int) (int, bool) {
	for c, arraySize := range classArraySizes {
		if n <= arraySize-1 {
			return c, true
		}
	}
	return 0, false
}

// allocArray writes docs (sorted, up to maxArrayDocs) into a fresh entry of
// the smallest fitting class.
func (s *Store) allocArray(docs []uint32) (refstore.EntryRef, error) {
	c, ok := classFor(len(docs))
	if !ok {
		return 0, fmt.Errorf("postingstore: %d docs exceed largest array class", len(docs))
	}

	entry := make([]uint32, 0, len(docs)+1)
	entry = append(entry, uint32(len(docs)))
	entry = append(entry, docs...)
	return s.classes[c].AllocArray(entry)
}

// bitmap returns the container of a promoted list.
func (s *Store) bitmap(ref refstore.EntryRef) *roaring.Bitmap {
	return s.registry.get(*refstore.Get[uint32](s.arena, ref))
}

// promote converts an array list to a bitmap container holding docs plus
// docID.
func (s *Store) promote(ref refstore.EntryRef, docs []uint32, docID uint32) (refstore.EntryRef, error) {
	bmp := roaring.BitmapOf(docs...)
	bmp.Add(docID)

	newRef, err := s.publishBitmap(bmp)
	if err != nil {
		return ref, err
	}
	s.arena.HoldEntry(ref)

	s.logger.Debug("posting list promoted to bitmap", "docs", bmp.GetCardinality())
	return newRef, nil
}

// publishBitmap installs bmp in the registry and allocates its arena handle.
// The bitmap must not be mutated afterwards.
func (s *Store) publishBitmap(bmp *roaring.Bitmap) (refstore.EntryRef, error) {
	size := bmp.GetSizeInBytes()
	slot := s.registry.publish(bmp, size)

	newRef, err := s.bitmaps.Alloc(slot)
	if err != nil {
		// Roll the slot back; it was never visible through any entry.
		tbl := s.registry.table.Load()
		(*tbl)[slot].Store(nil)
		s.registry.slotBytes[slot] = 0
		s.registry.freeSlots = append(s.registry.freeSlots, slot)
		return 0, err
	}
	s.arena.IncExtraUsedBytes(newRef, size)
	return newRef, nil
}

// retireBitmap parks a bitmap entry and its registry slot on the hold lists.
func (s *Store) retireBitmap(ref refstore.EntryRef, slot uint32) {
	s.arena.DecExtraUsedBytes(ref, s.registry.bytes(slot))
	s.arena.HoldEntry(ref)
	s.registry.retire(slot)
}

func (s *Store) bitmapInsert(ref refstore.EntryRef, docID uint32) (refstore.EntryRef, error) {
	slot := *refstore.Get[uint32](s.arena, ref)
	old := s.registry.get(slot)
	if old.Contains(docID) {
		return ref, nil
	}

	bmp := old.Clone()
	bmp.Add(docID)

	newRef, err := s.publishBitmap(bmp)
	if err != nil {
		return ref, err
	}
	s.retireBitmap(ref, slot)
	return newRef, nil
}

func (s *Store) bitmapRemove(ref refstore.EntryRef, docID uint32) (refstore.EntryRef, error) {
	slot := *refstore.Get[uint32](s.arena, ref)
	old := s.registry.get(slot)
	if !old.Contains(docID) {
		return ref, nil
	}

	bmp := old.Clone()
	bmp.Remove(docID)

	card := bmp.GetCardinality()
	if card == 0 {
		s.retireBitmap(ref, slot)
		return 0, nil
	}

	if card < demoteBelow {
		newRef, err := s.allocArray(bmp.ToArray())
		if err != nil {
			return ref, err
		}
		s.retireBitmap(ref, slot)
		s.logger.Debug("posting list demoted to array", "docs", card)
		return newRef, nil
	}

	newRef, err := s.publishBitmap(bmp)
	if err != nil {
		return ref, err
	}
	s.retireBitmap(ref, slot)
	return newRef, nil
}
